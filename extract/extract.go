// Package extract turns uploaded documents into plain text. A Dispatcher
// routes each file to the first registered Strategy that supports its format
// and falls back to OCR when a paged document carries too little text.
package extract

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrOCRUnavailable    = errors.New("ocr engine unavailable")
)

// Strategy extracts text for one family of formats.
type Strategy interface {
	Name() string
	Supports(format string) bool
	Extract(ctx context.Context, path string) (string, error)
}

// PagedStrategy is implemented by strategies whose documents can be
// rasterized page by page, which makes them eligible for OCR fallback.
type PagedStrategy interface {
	Strategy
	Open(ctx context.Context, path string) (PagedDocument, error)
}

// PagedDocument is an open multi-page document. Page indexes are zero based.
type PagedDocument interface {
	PageCount() int
	PageText(page int) (string, error)
	RenderPage(page int, dpi float64) (image.Image, error)
	Close() error
}

// OCREngine recognizes text in a rendered page.
type OCREngine interface {
	Available(ctx context.Context) bool
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// Format returns the format tag for a file name: its lower-cased extension
// including the leading dot.
func Format(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// baselineText concatenates the embedded text of every page.
func baselineText(doc PagedDocument) (string, error) {
	var b strings.Builder
	for i := 0; i < doc.PageCount(); i++ {
		text, err := doc.PageText(i)
		if err != nil {
			return "", err
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

type formatSet map[string]struct{}

func newFormatSet(formats ...string) formatSet {
	s := make(formatSet, len(formats))
	for _, f := range formats {
		s[f] = struct{}{}
	}
	return s
}

func (s formatSet) has(format string) bool {
	_, ok := s[strings.ToLower(format)]
	return ok
}
