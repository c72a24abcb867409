package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fstree/fswatch/cmd"
	"github.com/fstree/fswatch/pkg/watching"
)

var diffCommand = &cobra.Command{
	Use:   "diff <directory> <snapshot-file>",
	Short: "List the changes that occurred in a directory since a snapshot",
	Args:  cobra.ExactArgs(2),
	Run:   cmd.Mainify(diffMain),
}

var diffConfiguration watchConfiguration

func init() {
	diffConfiguration.registerFlags(diffCommand)
}

func diffMain(_ *cobra.Command, arguments []string) error {
	if len(arguments) != 2 {
		return errors.New("invalid number of arguments")
	}

	opts, err := diffConfiguration.options()
	if err != nil {
		return err
	}

	events, err := watching.GetEventsSince(arguments[0], arguments[1], opts)
	if err != nil {
		return err
	}

	for _, event := range events {
		fmt.Println(event.String())
	}

	return nil
}
