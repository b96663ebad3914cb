package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "convoctl",
		Short:         "Inspect and drive conversational agent channels",
		Long:          "convoctl replays captured channel traffic through the session router\nand publishes agent traffic to NATS for local testing.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newReplayCmd(),
		newPublishCmd(),
	)

	return cmd
}
