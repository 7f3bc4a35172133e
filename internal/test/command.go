package test

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/policity/policity/internal/config"
)

// CmdTest describes one CLI invocation under test.
type CmdTest struct {
	Name        string   // Name of the test.
	Args        []string // Arguments to pass to the command.
	ExpectedOut []string // Substrings expected in the captured log output.
}

// Command wraps Helper with command execution.
type Command struct {
	Helper
}

// SetupCommand creates a Helper with log capture enabled, ready to run
// commands against an isolated config.
func SetupCommand(t *testing.T, opts ...HelperOption) Command {
	t.Helper()

	opts = append(opts, WithCaptureLoggingOutput())
	return Command{Helper: Setup(t, opts...)}
}

// RunCommand executes the command and requires it to succeed.
func (th Command) RunCommand(t *testing.T, cmd *cobra.Command, testCase CmdTest) {
	t.Helper()

	require.NoError(t, th.RunCommandWithError(t, cmd, testCase))
}

// RunCommandWithError executes the command and returns its error so tests
// can assert on failures.
func (th Command) RunCommandWithError(t *testing.T, cmd *cobra.Command, testCase CmdTest) error {
	t.Helper()

	cmdRoot := &cobra.Command{Use: "root"}
	cmdRoot.AddCommand(cmd)
	cmdRoot.SetArgs(withConfigFlag(testCase.Args, th.Config))

	err := cmdRoot.ExecuteContext(th.Context)
	if err != nil {
		return err
	}

	output := th.LoggingOutput.String()
	for _, expected := range testCase.ExpectedOut {
		require.Contains(t, output, expected)
	}
	return nil
}

// withConfigFlag appends --config <file> unless already present.
func withConfigFlag(args []string, cfg *config.Config) []string {
	if cfg == nil || cfg.ConfigFileUsed == "" {
		return args
	}
	for _, arg := range args {
		if arg == "--config" || arg == "-c" ||
			strings.HasPrefix(arg, "--config=") || strings.HasPrefix(arg, "-c=") {
			return args
		}
	}
	return append(args, "--config", cfg.ConfigFileUsed)
}
