package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/convoai/internal/config"
	"github.com/capitalize-ai/convoai/internal/model"
	natsclient "github.com/capitalize-ai/convoai/internal/nats"
	"github.com/capitalize-ai/convoai/pkg/logger"
)

type publishOptions struct {
	url       string
	prefix    string
	channel   string
	publisher string
	timeout   time.Duration
}

func newPublishCmd() *cobra.Command {
	cfg := config.Load()
	opts := &publishOptions{}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish simulated agent traffic to a channel",
	}

	cmd.PersistentFlags().StringVar(&opts.url, "nats-url", cfg.NATSURL, "NATS server URL")
	cmd.PersistentFlags().StringVar(&opts.prefix, "prefix", cfg.RTMSubjectPrefix, "subject prefix")
	cmd.PersistentFlags().StringVar(&opts.channel, "channel", "", "target channel")
	cmd.PersistentFlags().StringVar(&opts.publisher, "agent", "agent", "publisher id of the simulated agent")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "publish timeout")
	_ = cmd.MarkPersistentFlagRequired("channel")

	cmd.AddCommand(
		newPublishStateCmd(opts),
		newPublishMessageCmd(opts),
	)

	return cmd
}

func newPublishStateCmd(opts *publishOptions) *cobra.Command {
	var (
		turnID    int64
		timestamp int64
	)

	cmd := &cobra.Command{
		Use:   "state STATE",
		Short: "Publish an agent state presence update",
		Long:  "Publishes a REMOTE_STATE_CHANGED presence update carrying state and turn_id.\nThe timestamp defaults to the current time in milliseconds.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if timestamp == 0 {
				timestamp = time.Now().UnixMilli()
			}
			ev := model.PresenceEvent{
				Type:      model.PresenceRemoteStateChanged,
				Channel:   opts.channel,
				Publisher: opts.publisher,
				Timestamp: timestamp,
				StateItems: map[string]string{
					"state":   args[0],
					"turn_id": strconv.FormatInt(turnID, 10),
				},
			}
			return opts.run(cmd, func(ctx context.Context, t *natsclient.Transport) error {
				return t.PublishPresence(ctx, ev)
			})
		},
	}

	cmd.Flags().Int64Var(&turnID, "turn", 0, "turn id")
	cmd.Flags().Int64Var(&timestamp, "ts", 0, "timestamp in milliseconds")

	return cmd
}

func newPublishMessageCmd(opts *publishOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "message PAYLOAD",
		Short: "Publish a raw channel message",
		Long:  "Publishes PAYLOAD as a text message from the simulated agent.\nUse - to read the payload from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := []byte(args[0])
			if args[0] == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("publish: %w", err)
				}
				payload = data
			}
			return opts.run(cmd, func(ctx context.Context, t *natsclient.Transport) error {
				return t.PublishChannelMessage(ctx, opts.channel, opts.publisher, payload)
			})
		},
	}
}

func (o *publishOptions) run(cmd *cobra.Command, publish func(context.Context, *natsclient.Transport) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	log := logger.NewNop()
	client, err := natsclient.Connect(ctx, natsclient.Config{URL: o.url, Name: "convoctl"}, log)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	defer client.Close()

	transport := natsclient.NewTransport(client, o.prefix, o.publisher, log)
	if err := publish(ctx, transport); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", o.channel)
	return nil
}
