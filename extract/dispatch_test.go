package extract

import (
	"context"
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStrategy struct {
	name    string
	formats formatSet
	text    string
	err     error
	calls   int
}

func (f *fakeStrategy) Name() string { return f.name }
func (f *fakeStrategy) Supports(format string) bool { return f.formats.has(format) }
func (f *fakeStrategy) Extract(context.Context, string) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakePagedStrategy struct {
	fakeStrategy
	pages []string
}

func (f *fakePagedStrategy) Open(context.Context, string) (PagedDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fakeDocument{pages: f.pages}, nil
}

type fakeDocument struct {
	pages    []string
	rendered []int
	closed   bool
}

func (d *fakeDocument) PageCount() int { return len(d.pages) }
func (d *fakeDocument) PageText(i int) (string, error) { return d.pages[i], nil }
func (d *fakeDocument) Close() error { d.closed = true; return nil }
func (d *fakeDocument) RenderPage(i int, _ float64) (image.Image, error) {
	d.rendered = append(d.rendered, i)
	return image.NewGray(image.Rect(0, 0, 1, i+1)), nil
}

// fakeOCR reads back the page index encoded in the image height.
type fakeOCR struct {
	available bool
	perPage   map[int]string
	calls     int
}

func (o *fakeOCR) Available(context.Context) bool { return o.available }
func (o *fakeOCR) Recognize(_ context.Context, img image.Image) (string, error) {
	o.calls++
	return o.perPage[img.Bounds().Dy()-1], nil
}

func newTestDispatcher(ocr OCREngine, strategies ...Strategy) *Dispatcher {
	return NewDispatcher(ocr, Options{}, zerolog.Nop(), strategies...)
}

func TestNeedsOCR(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(nil)
	assert.True(t, d.NeedsOCR(100, 10))
	assert.False(t, d.NeedsOCR(2000, 10))
	assert.False(t, d.NeedsOCR(50, 1))
	assert.True(t, d.NeedsOCR(49, 1))
	assert.True(t, d.NeedsOCR(0, 0))
	assert.False(t, d.NeedsOCR(60, 0))
}

func TestNeedsOCRCustomThreshold(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil, Options{MinCharsPerPage: 10}, zerolog.Nop())
	assert.False(t, d.NeedsOCR(100, 10))
	assert.True(t, d.NeedsOCR(99, 10))
}

func TestDispatcherSupports(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(nil, DocxStrategy{}, EPUBStrategy{}, FB2Strategy{}, ImageStrategy{}, TextStrategy{})
	for _, f := range []string{".docx", ".epub", ".fb2", ".png", ".JPG", ".txt"} {
		assert.True(t, d.Supports(f), f)
	}
	for _, f := range []string{".mobi", ".exe", "", "docx"} {
		assert.False(t, d.Supports(f), f)
	}
}

func TestDispatcherFirstMatchWins(t *testing.T) {
	t.Parallel()

	first := &fakeStrategy{name: "first", formats: newFormatSet(".txt"), text: "one"}
	second := &fakeStrategy{name: "second", formats: newFormatSet(".txt"), text: "two"}
	d := newTestDispatcher(nil, first, second)

	text, err := d.Extract(context.Background(), "book.txt", ".txt")
	require.NoError(t, err)
	assert.Equal(t, "one", text)
	assert.Equal(t, 0, second.calls)
}

func TestDispatcherUnsupportedFormat(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(nil, &fakeStrategy{name: "txt", formats: newFormatSet(".txt")})
	_, err := d.Extract(context.Background(), "book.mobi", ".mobi")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDispatcherWrapsStrategyFailure(t *testing.T) {
	t.Parallel()

	s := &fakeStrategy{name: "txt", formats: newFormatSet(".txt"), err: errors.New("corrupt")}
	d := newTestDispatcher(nil, s)

	_, err := d.Extract(context.Background(), "book.txt", ".txt")
	require.ErrorIs(t, err, ErrExtractionFailed)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestDispatcherPagedKeepsEmbeddedText(t *testing.T) {
	t.Parallel()

	page := strings.Repeat("x", 60)
	s := &fakePagedStrategy{
		fakeStrategy: fakeStrategy{name: "pdf", formats: newFormatSet(".pdf")},
		pages:        []string{page, page},
	}
	ocr := &fakeOCR{available: true}
	d := newTestDispatcher(ocr, s)

	text, err := d.Extract(context.Background(), "a.pdf", ".pdf")
	require.NoError(t, err)
	assert.Equal(t, page+page, text)
	assert.Zero(t, ocr.calls)
}

func TestDispatcherPagedFallsBackToOCR(t *testing.T) {
	t.Parallel()

	s := &fakePagedStrategy{
		fakeStrategy: fakeStrategy{name: "pdf", formats: newFormatSet(".pdf")},
		pages:        []string{"p1", "", "p3"},
	}
	ocr := &fakeOCR{available: true, perPage: map[int]string{
		0: "  first page  ",
		1: "   ",
		2: "third page",
	}}
	d := newTestDispatcher(ocr, s)

	text, err := d.Extract(context.Background(), "scan.pdf", ".pdf")
	require.NoError(t, err)
	assert.Equal(t, "first page\n\nthird page", text)
	assert.Equal(t, 3, ocr.calls)
}

func TestDispatcherOCRUnavailable(t *testing.T) {
	t.Parallel()

	s := &fakePagedStrategy{
		fakeStrategy: fakeStrategy{name: "pdf", formats: newFormatSet(".pdf")},
		pages:        []string{""},
	}

	for name, engine := range map[string]OCREngine{
		"nil engine":    nil,
		"not installed": &fakeOCR{available: false},
	} {
		d := newTestDispatcher(engine, s)
		_, err := d.Extract(context.Background(), "scan.pdf", ".pdf")
		assert.ErrorIs(t, err, ErrOCRUnavailable, name)
		assert.NotErrorIs(t, err, ErrExtractionFailed, name)
	}
}

func TestDispatcherOCRStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := &fakePagedStrategy{
		fakeStrategy: fakeStrategy{name: "pdf", formats: newFormatSet(".pdf")},
		pages:        []string{"", ""},
	}
	ocr := &fakeOCR{available: true}
	d := newTestDispatcher(ocr, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Extract(ctx, "scan.pdf", ".pdf")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, ocr.calls)
}

func TestFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".pdf", Format("Book.PDF"))
	assert.Equal(t, ".gz", Format("archive.tar.gz"))
	assert.Equal(t, "", Format("README"))
}
