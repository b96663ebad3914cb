// Package protocol decodes and encodes conversational AI wire messages.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const maxSnippet = 64

// ParseError describes a payload that could not be decoded.
type ParseError struct {
	Snippet string
	Reason  string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v (payload %q)", e.Reason, e.Err, e.Snippet)
	}
	return fmt.Sprintf("%s (payload %q)", e.Reason, e.Snippet)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parser turns raw payloads into key-value maps. Failures are reported to
// OnError and never returned to the caller.
type Parser struct {
	OnError func(error)
}

// Parse decodes a JSON object. It returns nil when raw is not a JSON object.
func (p Parser) Parse(raw string) map[string]any {
	return p.ParseBytes([]byte(raw))
}

// ParseBytes is Parse for binary payloads.
func (p Parser) ParseBytes(raw []byte) map[string]any {
	fields, err := DecodeObject(raw)
	if err != nil {
		if p.OnError != nil {
			p.OnError(err)
		}
		return nil
	}
	return fields
}

// DecodeObject decodes raw into a map, keeping numbers as json.Number.
func DecodeObject(raw []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, &ParseError{Reason: "empty payload"}
	}
	if trimmed[0] != '{' {
		return nil, &ParseError{Snippet: snippet(trimmed), Reason: "payload is not a JSON object"}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, &ParseError{Snippet: snippet(trimmed), Reason: "invalid json", Err: err}
	}
	if dec.More() {
		return nil, &ParseError{Snippet: snippet(trimmed), Reason: "trailing data after json object"}
	}
	return fields, nil
}

func snippet(b []byte) string {
	s := strings.ToValidUTF8(string(b), "?")
	if len(s) > maxSnippet {
		return s[:maxSnippet] + "..."
	}
	return s
}
