package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/convoai/internal/model"
	"github.com/capitalize-ai/convoai/pkg/logger"
	"github.com/capitalize-ai/convoai/pkg/metrics"
)

const (
	// ArchiveStreamName is the name of the finalized transcripts stream.
	ArchiveStreamName = "TRANSCRIPTS"

	archivePublishTimeout = 5 * time.Second

	tracerName = "github.com/capitalize-ai/convoai/internal/nats"
)

// TranscriptSubject returns the archive subject of a channel.
func TranscriptSubject(prefix, channel string) string {
	return fmt.Sprintf("%s.transcript.%s", prefix, channel)
}

// Archive persists finalized captions to JetStream.
type Archive struct {
	js     jetstream.JetStream
	prefix string
	log    *logger.Logger
	now    func() time.Time
}

// NewArchive creates an archive on the client's JetStream context.
func NewArchive(client *Client, prefix string, log *logger.Logger) *Archive {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if log == nil {
		log = logger.Global()
	}
	return &Archive{js: client.JetStream(), prefix: prefix, log: log, now: time.Now}
}

// EnsureStream ensures the transcripts stream exists.
func (a *Archive) EnsureStream(ctx context.Context) error {
	_, err := a.js.Stream(ctx, ArchiveStreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = a.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        ArchiveStreamName,
		Subjects:    []string{TranscriptSubject(a.prefix, ">")},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Finalized conversation captions",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	a.log.Info("created archive stream", zap.String("stream", ArchiveStreamName))
	return nil
}

// Ping checks that the transcripts stream is reachable.
func (a *Archive) Ping(ctx context.Context) error {
	if _, err := a.js.Stream(ctx, ArchiveStreamName); err != nil {
		return fmt.Errorf("failed to look up stream: %w", err)
	}
	return nil
}

// Store writes one archived transcript and returns its stream sequence.
func (a *Archive) Store(ctx context.Context, rec model.ArchivedTranscript) (uint64, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "archive.store")
	defer span.End()
	span.SetAttributes(
		attribute.String("convoai.channel", rec.Channel),
		attribute.Int64("convoai.turn_id", rec.TurnID),
	)

	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal transcript: %w", err)
	}

	ack, err := a.js.Publish(ctx, TranscriptSubject(a.prefix, rec.Channel), data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to publish transcript: %w", err)
	}

	span.SetAttributes(attribute.Int64("convoai.sequence", int64(ack.Sequence)))
	return ack.Sequence, nil
}

// History returns up to limit archived transcripts of a channel stored after
// afterSequence, oldest first, with the last sequence read and whether more
// may follow.
func (a *Archive) History(ctx context.Context, channel string, afterSequence uint64, limit int) ([]model.ArchivedTranscript, uint64, bool, error) {
	if limit <= 0 {
		return nil, afterSequence, false, nil
	}

	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{TranscriptSubject(a.prefix, channel)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = afterSequence + 1
	}

	consumer, err := a.js.OrderedConsumer(ctx, ArchiveStreamName, cfg)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch transcripts: %w", err)
	}

	var records []model.ArchivedTranscript
	lastSequence := afterSequence

	for msg := range batch.Messages() {
		var rec model.ArchivedTranscript
		if err := json.Unmarshal(msg.Data(), &rec); err != nil {
			a.log.Warn("skipping undecodable archived transcript", zap.String("subject", msg.Subject()), zap.Error(err))
			continue
		}

		if meta, err := msg.Metadata(); err == nil {
			rec.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}

		records = append(records, rec)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	return records, lastSequence, len(records) == limit, nil
}

// Observer returns an observer that archives the channel's finalized
// captions. Writes happen off the dispatch goroutine.
func (a *Archive) Observer(channel string) model.Observer {
	return &archiveObserver{archive: a, channel: channel}
}

type archiveObserver struct {
	archive *Archive
	channel string
}

func (o *archiveObserver) OnEvent(ev model.Event) {
	tu, ok := ev.(model.TranscriptUpdated)
	if !ok || !tu.Transcript.Status.Final() {
		return
	}

	t := tu.Transcript
	rec := model.ArchivedTranscript{
		Channel:     o.channel,
		AgentUserID: tu.AgentUserID(),
		TurnID:      t.TurnID,
		UserID:      t.UserID,
		Type:        t.Type,
		Status:      t.Status,
		Text:        t.Text,
		ArchivedAt:  o.archive.now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archivePublishTimeout)
		defer cancel()

		if _, err := o.archive.Store(ctx, rec); err != nil {
			metrics.ArchivedTranscriptsTotal.WithLabelValues("failure").Inc()
			o.archive.log.Error("failed to archive transcript",
				zap.String("channel", rec.Channel),
				zap.Int64("turn_id", rec.TurnID),
				zap.Error(err),
			)
			return
		}
		metrics.ArchivedTranscriptsTotal.WithLabelValues("success").Inc()
	}()
}
