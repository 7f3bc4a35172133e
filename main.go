package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/policity/policity/internal/build"
	"github.com/policity/policity/internal/cmd"

	_ "github.com/policity/policity/internal/persistence/sqlstore/drivers/postgres" // Register SQL store drivers
	_ "github.com/policity/policity/internal/persistence/sqlstore/drivers/sqlite"
)

var rootCmd = &cobra.Command{
	Use:   build.Slug,
	Short: "Policity generates infrastructure repair reports",
	Long: `Policity turns municipal infrastructure damage reports into
costed, validated repair plans.

It runs a pipeline of model-backed analysis steps over each incident,
caches every step result and assembles the accepted sections into a
single report.
`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(cmd.Server())
	rootCmd.AddCommand(cmd.Run())
	rootCmd.AddCommand(cmd.Status())
	rootCmd.AddCommand(cmd.Version())

	build.Version = version
}

var version = "0.0.0"
