package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/fstree/fswatch/cmd"
	"github.com/fstree/fswatch/pkg/watching"
)

var subscribeCommand = &cobra.Command{
	Use:   "subscribe <directory>",
	Short: "Print batched, debounced changes in a directory until interrupted",
	Args:  cobra.ExactArgs(1),
	Run:   cmd.Mainify(subscribeMain),
}

var subscribeConfiguration watchConfiguration

func init() {
	subscribeConfiguration.registerFlags(subscribeCommand)
}

func subscribeMain(_ *cobra.Command, arguments []string) error {
	if len(arguments) != 1 {
		return errors.New("invalid number of arguments")
	}

	// Create a channel to track termination signals before starting the
	// subscription, so that we don't miss a signal delivered during setup.
	terminationSignals := make(chan os.Signal, 1)
	signal.Notify(terminationSignals, cmd.TerminationSignals...)

	callbackErrors := make(chan error, 1)
	callback := func(err error, events []watching.Event) {
		if err != nil {
			select {
			case callbackErrors <- err:
			default:
			}
			return
		}
		for _, event := range events {
			fmt.Println(event.String())
		}
	}

	opts, err := subscribeConfiguration.options()
	if err != nil {
		return err
	}

	unsubscribe, err := watching.Subscribe(arguments[0], callback, opts)
	if err != nil {
		return fmt.Errorf("unable to subscribe: %w", err)
	}

	select {
	case <-terminationSignals:
	case err := <-callbackErrors:
		unsubscribe()
		return fmt.Errorf("watch failed: %w", err)
	}

	return unsubscribe()
}
