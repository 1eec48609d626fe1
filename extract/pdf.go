package extract

import (
	"context"
	"image"

	"github.com/gen2brain/go-fitz"
)

// PDFStrategy reads embedded PDF text through MuPDF.
type PDFStrategy struct{}

func (PDFStrategy) Name() string { return "pdf" }

func (PDFStrategy) Supports(format string) bool { return format == ".pdf" }

func (s PDFStrategy) Extract(ctx context.Context, path string) (string, error) {
	doc, err := s.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer doc.Close()
	return baselineText(doc)
}

func (PDFStrategy) Open(_ context.Context, path string) (PagedDocument, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &fitzDocument{doc: doc}, nil
}

type fitzDocument struct {
	doc     *fitz.Document
	cleanup func()
}

func (d *fitzDocument) PageCount() int { return d.doc.NumPage() }

func (d *fitzDocument) PageText(page int) (string, error) { return d.doc.Text(page) }

func (d *fitzDocument) RenderPage(page int, dpi float64) (image.Image, error) {
	return d.doc.ImageDPI(page, dpi)
}

func (d *fitzDocument) Close() error {
	err := d.doc.Close()
	if d.cleanup != nil {
		d.cleanup()
	}
	return err
}
