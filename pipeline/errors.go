package pipeline

import (
	"context"
	"errors"
	"fmt"

	"voynich/audio"
	"voynich/extract"
	"voynich/models"
	"voynich/synth"
)

// Kind classifies why a conversion failed or a request was rejected.
type Kind string

const (
	KindUnsupportedFormat Kind = "UnsupportedFormat"
	KindExtractionFailed  Kind = "ExtractionFailed"
	KindOCRUnavailable    Kind = "OCRUnavailable"
	KindSynthesisFailed   Kind = "SynthesisFailed"
	KindAssemblyFailed    Kind = "AssemblyFailed"
	KindInvalidTransition Kind = "InvalidTransition"
	KindJobNotFound       Kind = "JobNotFound"
	KindCancelled         Kind = "Cancelled"
	KindInternal          Kind = "Internal"
)

var (
	ErrJobNotFound       = models.ErrJobNotFound
	ErrInvalidTransition = errors.New("invalid status transition")
)

// errStopped means the job row left the processing state while the worker
// still held it, which is how an external cancellation is observed.
var errStopped = errors.New("job no longer processing")

// StageError is the outcome of a failed stage.
type StageError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// KindOf returns the Kind carried by err, or KindInternal.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrJobNotFound):
		return KindJobNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	}
	return classify(err, KindInternal)
}

func classify(err error, fallback Kind) Kind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, errStopped):
		return KindCancelled
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, extract.ErrOCRUnavailable):
		return KindOCRUnavailable
	case errors.Is(err, extract.ErrExtractionFailed):
		return KindExtractionFailed
	case errors.Is(err, synth.ErrSynthesisFailed):
		return KindSynthesisFailed
	case errors.Is(err, audio.ErrAssemblyFailed):
		return KindAssemblyFailed
	}
	return fallback
}

// stageError wraps err for the given stage unless it already is one.
func stageError(stage Kind, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return &StageError{Kind: classify(err, stage), Err: err}
}
