package session

import (
	"errors"
	"fmt"
)

var (
	// ErrDestroyed is returned by operations on a destroyed router.
	ErrDestroyed = errors.New("router destroyed")

	// ErrNoChannel is returned when subscribing without a channel name.
	ErrNoChannel = errors.New("channel name is required")
)

// ErrorKind classifies command failures.
type ErrorKind string

const (
	// ErrorKindTransport is a failure reported by the messaging transport.
	ErrorKindTransport ErrorKind = "transport"
	// ErrorKindUnknown covers failures before anything was sent, such as a
	// payload that could not be serialized.
	ErrorKindUnknown ErrorKind = "unknown"
)

// CommandError is the result of a failed outbound command.
type CommandError struct {
	Command string
	Kind    ErrorKind
	Code    int
	Message string
	TraceID string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed [%s] (%s error, code %d): %s", e.Command, e.TraceID, e.Kind, e.Code, e.Message)
}

func (e *CommandError) Unwrap() error { return e.Err }
