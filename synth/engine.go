// Package synth turns text chunks into per-chunk audio files through a
// speech synthesis engine.
package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	ErrSynthesisFailed = errors.New("synthesis failed")
	ErrEmptyText       = errors.New("text cannot be empty")
)

// Engine synthesizes speech for one piece of text. An empty voice selects
// the engine default. The caller closes the returned stream.
type Engine interface {
	Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error)
}

// EngineError carries the provider response for a failed synthesis call.
type EngineError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *EngineError) Error() string {
	msg := fmt.Sprintf("speech engine returned %d", e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() error { return e.Cause }
