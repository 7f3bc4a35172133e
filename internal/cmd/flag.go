package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type commandLineFlag struct {
	name, shorthand, defaultValue, usage string
	isBool                               bool
}

var (
	configFlag = commandLineFlag{
		name:      "config",
		shorthand: "c",
		usage:     "config file (default searches . and /etc/policity)",
	}
	quietFlag = commandLineFlag{
		name:      "quiet",
		shorthand: "q",
		isBool:    true,
		usage:     "suppress progress output",
	}
	pipelineFlag = commandLineFlag{
		name:  "pipeline",
		usage: "pipeline definition file (default is the builtin road-repair pipeline)",
	}
	hostFlag = commandLineFlag{
		name:      "host",
		shorthand: "s",
		usage:     "server host (overrides config)",
	}
	portFlag = commandLineFlag{
		name:      "port",
		shorthand: "p",
		usage:     "server port (overrides config)",
	}
	runIDFlag = commandLineFlag{
		name:      "run-id",
		shorthand: "r",
		usage:     "run ID (a UUID is generated when omitted)",
	}
	inputFlag = commandLineFlag{
		name:      "input",
		shorthand: "i",
		usage:     "JSON file with run inputs",
	}
	locationFlag = commandLineFlag{
		name:  "location",
		usage: "incident location (overrides the input file)",
	}
	issueTypeFlag = commandLineFlag{
		name:  "issue-type",
		usage: "issue type, e.g. pothole (overrides the input file)",
	}
	fiscalYearFlag = commandLineFlag{
		name:  "fiscal-year",
		usage: "budget fiscal year (overrides the input file)",
	}
	forceRefreshFlag = commandLineFlag{
		name:  "force-refresh",
		usage: "comma-separated step names to recompute, discarding cached results",
	}
)

// initFlags registers the command's flags plus the flags every command
// carries.
func initFlags(cmd *cobra.Command, flags ...commandLineFlag) {
	flags = append(flags, configFlag, quietFlag)
	for _, flag := range flags {
		if flag.isBool {
			cmd.Flags().BoolP(flag.name, flag.shorthand, flag.defaultValue == "true", flag.usage)
			continue
		}
		cmd.Flags().StringP(flag.name, flag.shorthand, flag.defaultValue, flag.usage)
	}
}

// bindFlags exposes the flags through viper so configuration loading can
// see them.
func bindFlags(cmd *cobra.Command, flags ...commandLineFlag) {
	flags = append(flags, configFlag, quietFlag)
	for _, flag := range flags {
		_ = viper.BindPFlag(flag.name, cmd.Flags().Lookup(flag.name))
	}
}
