package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fstree/fswatch/cmd"
	"github.com/fstree/fswatch/pkg/logging"
	"github.com/fstree/fswatch/pkg/version"
)

var rootCommand = &cobra.Command{
	Use:          "fswatch",
	Short:        "fswatch monitors directory trees for changes",
	SilenceUsage: true,
}

var rootConfiguration struct {
	// help indicates whether or not to show help information and exit.
	help bool
	// logLevel is the configured logging level.
	logLevel string
}

func init() {
	rootCommand.PersistentFlags().StringVar(
		&rootConfiguration.logLevel, "log-level", "info",
		"specify the log level (disabled|error|warn|info|debug|trace)",
	)

	flags := rootCommand.Flags()
	flags.BoolVarP(&rootConfiguration.help, "help", "h", false, "show help information")

	rootCommand.AddCommand(
		snapshotCommand,
		diffCommand,
		subscribeCommand,
		versionCommand,
	)
}

func configureLogging() {
	level, ok := logging.NameToLevel(rootConfiguration.logLevel)
	if !ok {
		cmd.Fatal(fmt.Errorf("invalid log level: %s", rootConfiguration.logLevel))
	}
	logging.DebugEnabled = level >= logging.LevelDebug
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cmd.DisallowArguments,
	Run: cmd.Mainify(func(_ *cobra.Command, _ []string) error {
		fmt.Println(version.Semantic)
		return nil
	}),
}

func main() {
	cobra.OnInitialize(configureLogging)
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
