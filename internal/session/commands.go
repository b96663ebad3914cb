package session

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/convoai/internal/model"
	"github.com/capitalize-ai/convoai/internal/protocol"
	"github.com/capitalize-ai/convoai/pkg/metrics"
)

// Command names used in errors, logs and metrics.
const (
	CommandChat      = "chat"
	CommandImage     = "image"
	CommandInterrupt = "interrupt"
)

// Chat sends a text message to the agent user and returns the command's
// trace id. Failures are returned as a *CommandError; nothing is retried.
func (r *Router) Chat(ctx context.Context, agentUserID string, msg protocol.TextMessage) (string, error) {
	return r.send(ctx, CommandChat, agentUserID, protocol.CustomTypeChat, func() ([]byte, error) {
		return protocol.EncodeText(msg)
	})
}

// SendImage sends an image reference to the agent user.
func (r *Router) SendImage(ctx context.Context, agentUserID string, msg protocol.ImageMessage) (string, error) {
	return r.send(ctx, CommandImage, agentUserID, protocol.CustomTypeImage, func() ([]byte, error) {
		return protocol.EncodeImage(msg)
	})
}

// Interrupt asks the agent user to stop speaking.
func (r *Router) Interrupt(ctx context.Context, agentUserID string) (string, error) {
	return r.send(ctx, CommandInterrupt, agentUserID, protocol.CustomTypeInterrupt, protocol.EncodeInterrupt)
}

func (r *Router) send(ctx context.Context, command, agentUserID, customType string, encode func() ([]byte, error)) (traceID string, err error) {
	traceID = newTraceID()
	log := r.log.WithTrace(command, traceID)

	ctx, span := r.tracer.Start(ctx, "session."+command)
	span.SetAttributes(
		attribute.String("convoai.trace_id", traceID),
		attribute.String("convoai.agent_user_id", agentUserID),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.RecordCommand(command, err)
	}()

	r.mu.Lock()
	destroyed := r.destroyed
	r.mu.Unlock()
	if destroyed {
		return traceID, &CommandError{Command: command, Kind: ErrorKindUnknown, Code: -1, Message: ErrDestroyed.Error(), TraceID: traceID, Err: ErrDestroyed}
	}
	if strings.TrimSpace(agentUserID) == "" {
		return traceID, &CommandError{Command: command, Kind: ErrorKindUnknown, Code: -1, Message: "agent user id is required", TraceID: traceID}
	}

	payload, err := encode()
	if err != nil {
		log.Warn("failed to encode command", zap.Error(err))
		return traceID, &CommandError{Command: command, Kind: ErrorKindUnknown, Code: -1, Message: err.Error(), TraceID: traceID, Err: err}
	}

	if r.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.PublishTimeout)
		defer cancel()
	}

	log.Debug("publishing command", zap.String("agent_user_id", agentUserID), zap.Int("bytes", len(payload)))
	r.debugf("%s [%s] -> %s", command, traceID, agentUserID)

	opts := model.PublishOptions{ChannelType: model.ChannelTypeUser, CustomType: customType}
	if perr := r.transport.Publish(ctx, agentUserID, payload, opts); perr != nil {
		code := -1
		var pubErr *model.PublishError
		if errors.As(perr, &pubErr) {
			code = pubErr.Code
		}
		log.Error("failed to publish command", zap.Int("code", code), zap.Error(perr))
		return traceID, &CommandError{Command: command, Kind: ErrorKindTransport, Code: code, Message: perr.Error(), TraceID: traceID, Err: perr}
	}

	log.Info("command published", zap.String("agent_user_id", agentUserID))
	return traceID, nil
}

// newTraceID returns a short id for correlating a command's log lines.
func newTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
