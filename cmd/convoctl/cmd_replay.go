package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/convoai/internal/dispatch"
	"github.com/capitalize-ai/convoai/internal/model"
	"github.com/capitalize-ai/convoai/internal/session"
	"github.com/capitalize-ai/convoai/pkg/logger"
)

// captureLine is one line of a JSONL channel capture.
type captureLine struct {
	Kind       string             `json:"kind"`
	Channel    string             `json:"channel,omitempty"`
	Publisher  string             `json:"publisher,omitempty"`
	Payload    json.RawMessage    `json:"payload,omitempty"`
	Type       model.PresenceType `json:"type,omitempty"`
	Timestamp  int64              `json:"timestamp,omitempty"`
	StateItems map[string]string  `json:"state_items,omitempty"`
}

// payloadBytes returns the wire text of a message line. A JSON string
// payload is unquoted; anything else is passed through as written.
func (l captureLine) payloadBytes() []byte {
	var s string
	if err := json.Unmarshal(l.Payload, &s); err == nil {
		return []byte(s)
	}
	return l.Payload
}

// replayTransport accepts subscriptions and drops publishes.
type replayTransport struct{}

type replaySubscription struct{}

func (replaySubscription) Unsubscribe() error { return nil }

func (replayTransport) Subscribe(string, model.Sink) (model.Subscription, error) {
	return replaySubscription{}, nil
}

func (replayTransport) Publish(context.Context, string, []byte, model.PublishOptions) error {
	return nil
}

// jsonPrinter writes every event as one JSON line.
type jsonPrinter struct {
	enc   *json.Encoder
	count int
	err   error
}

func (p *jsonPrinter) OnEvent(ev model.Event) {
	if p.err != nil {
		return
	}
	p.err = p.enc.Encode(model.RecordOf(ev))
	p.count++
}

type replayStats struct {
	Lines     int
	Events    int
	Watermark model.StateChangeEvent
}

func newReplayCmd() *cobra.Command {
	var (
		channel string
		debug   bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Feed a JSONL capture through the session router",
		Long: "Each line is {\"kind\":\"message\",...} or {\"kind\":\"presence\",...}.\n" +
			"Every event the router dispatches is printed as one JSON line.\n" +
			"Use - to read the capture from stdin.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("replay: %w", err)
				}
				defer f.Close()
				in = f
			}

			log := logger.NewNop()
			if verbose {
				dev, err := logger.NewDevelopment()
				if err != nil {
					return fmt.Errorf("replay: %w", err)
				}
				log = dev
			}

			stats, err := replay(in, cmd.OutOrStdout(), channel, session.Config{DebugEvents: debug}, log)
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d lines, %d events, watermark turn=%d ts=%d\n",
				stats.Lines, stats.Events, stats.Watermark.TurnID, stats.Watermark.Timestamp)
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "replay", "channel the router subscribes to")
	cmd.Flags().BoolVar(&debug, "debug-events", false, "dispatch debug log events")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log router activity to stderr")

	return cmd
}

// replay runs a capture through a router on the inline executor so events
// are printed in dispatch order.
func replay(in io.Reader, out io.Writer, channel string, cfg session.Config, log *logger.Logger) (replayStats, error) {
	var stats replayStats

	router := session.NewRouter(replayTransport{}, dispatch.Inline{}, cfg, log)
	defer router.Destroy()

	printer := &jsonPrinter{enc: json.NewEncoder(out)}
	router.AddObserver(printer)
	if err := router.Subscribe(channel); err != nil {
		return stats, err
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var line captureLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return stats, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if line.Channel == "" {
			line.Channel = channel
		}

		switch line.Kind {
		case "message":
			router.HandleMessage(model.RawMessage{
				Kind:        model.PayloadText,
				Payload:     line.payloadBytes(),
				PublisherID: line.Publisher,
				Channel:     line.Channel,
			})
		case "presence":
			router.HandlePresence(model.PresenceEvent{
				Type:       line.Type,
				Channel:    line.Channel,
				Publisher:  line.Publisher,
				Timestamp:  line.Timestamp,
				StateItems: line.StateItems,
			})
		default:
			return stats, fmt.Errorf("line %d: unknown kind %q", lineNo, line.Kind)
		}
		stats.Lines++

		if printer.err != nil {
			return stats, printer.err
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, err
	}

	stats.Events = printer.count
	stats.Watermark = router.Watermark()
	return stats, nil
}
