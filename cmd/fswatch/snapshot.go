package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/fstree/fswatch/cmd"
	"github.com/fstree/fswatch/pkg/watching"
)

var snapshotCommand = &cobra.Command{
	Use:   "snapshot <directory> <snapshot-file>",
	Short: "Write a snapshot of a directory's current state",
	Args:  cobra.ExactArgs(2),
	Run:   cmd.Mainify(snapshotMain),
}

var snapshotConfiguration watchConfiguration

func init() {
	snapshotConfiguration.registerFlags(snapshotCommand)
}

func snapshotMain(_ *cobra.Command, arguments []string) error {
	if len(arguments) != 2 {
		return errors.New("invalid number of arguments")
	}
	opts, err := snapshotConfiguration.options()
	if err != nil {
		return err
	}
	return watching.WriteSnapshot(arguments[0], arguments[1], opts)
}
