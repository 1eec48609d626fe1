package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	DefaultMinCharsPerPage = 50
	DefaultOCRDPI          = 300
)

// Options tunes the OCR fallback.
type Options struct {
	MinCharsPerPage int
	DPI             float64
}

// Dispatcher selects a Strategy by format tag. Strategies are tried in
// registration order and the first match wins.
type Dispatcher struct {
	strategies []Strategy
	ocr        OCREngine
	opts       Options
	logger     zerolog.Logger
}

func NewDispatcher(ocr OCREngine, opts Options, logger zerolog.Logger, strategies ...Strategy) *Dispatcher {
	if opts.MinCharsPerPage <= 0 {
		opts.MinCharsPerPage = DefaultMinCharsPerPage
	}
	if opts.DPI <= 0 {
		opts.DPI = DefaultOCRDPI
	}
	return &Dispatcher{
		strategies: strategies,
		ocr:        ocr,
		opts:       opts,
		logger:     logger.With().Str("component", "extract").Logger(),
	}
}

// Supports reports whether any registered strategy handles the format tag.
func (d *Dispatcher) Supports(format string) bool {
	return d.strategyFor(format) != nil
}

// NeedsOCR reports whether the average characters per page falls below the
// configured threshold. A zero page count is treated as one page.
func (d *Dispatcher) NeedsOCR(charCount, pageCount int) bool {
	avg := float64(charCount) / float64(max(pageCount, 1))
	return avg < float64(d.opts.MinCharsPerPage)
}

// Extract returns the plain text of the file at path. The format tag decides
// the strategy, not the path.
func (d *Dispatcher) Extract(ctx context.Context, path, format string) (string, error) {
	s := d.strategyFor(format)
	if s == nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if ps, ok := s.(PagedStrategy); ok {
		text, err := d.extractPaged(ctx, ps, path)
		return text, wrapFailure(s.Name(), err)
	}

	text, err := s.Extract(ctx, path)
	return text, wrapFailure(s.Name(), err)
}

func (d *Dispatcher) strategyFor(format string) Strategy {
	format = strings.ToLower(format)
	for _, s := range d.strategies {
		if s.Supports(format) {
			return s
		}
	}
	return nil
}

func (d *Dispatcher) extractPaged(ctx context.Context, s PagedStrategy, path string) (string, error) {
	doc, err := s.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer doc.Close()

	text, err := baselineText(doc)
	if err != nil {
		return "", err
	}

	pages := doc.PageCount()
	chars := utf8.RuneCountInString(strings.TrimSpace(text))
	if !d.NeedsOCR(chars, pages) {
		return text, nil
	}

	d.logger.Info().
		Str("strategy", s.Name()).
		Int("pages", pages).
		Int("chars", chars).
		Msg("Embedded text below threshold, falling back to OCR")

	return d.recognizePages(ctx, doc)
}

func (d *Dispatcher) recognizePages(ctx context.Context, doc PagedDocument) (string, error) {
	if d.ocr == nil || !d.ocr.Available(ctx) {
		return "", ErrOCRUnavailable
	}

	parts := make([]string, 0, doc.PageCount())
	for i := 0; i < doc.PageCount(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		img, err := doc.RenderPage(i, d.opts.DPI)
		if err != nil {
			return "", fmt.Errorf("render page %d: %w", i+1, err)
		}

		text, err := d.ocr.Recognize(ctx, img)
		if err != nil {
			return "", fmt.Errorf("ocr page %d: %w", i+1, err)
		}

		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, "\n\n"), nil
}

// wrapFailure tags strategy errors as extraction failures while letting
// cancellation and the OCR sentinel through untouched.
func wrapFailure(name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrOCRUnavailable),
		errors.Is(err, ErrExtractionFailed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", ErrExtractionFailed, name, err)
	}
}
