package extract

import (
	"context"
	"fmt"
	"os"

	"github.com/gen2brain/go-fitz"
)

// PDFConverter renders a document to a PDF file the caller then owns.
type PDFConverter interface {
	ConvertToPDF(ctx context.Context, inputPath, outDir string) (string, error)
}

// OfficeStrategy handles legacy word-processor formats by converting them to
// PDF first. The intermediate PDF lives only as long as the open document.
type OfficeStrategy struct {
	Converter PDFConverter
	WorkDir   string
}

var officeFormats = newFormatSet(".doc", ".odt", ".rtf")

func (OfficeStrategy) Name() string { return "office" }

func (s OfficeStrategy) Supports(format string) bool {
	return s.Converter != nil && officeFormats.has(format)
}

func (s OfficeStrategy) Extract(ctx context.Context, path string) (string, error) {
	doc, err := s.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer doc.Close()
	return baselineText(doc)
}

func (s OfficeStrategy) Open(ctx context.Context, path string) (PagedDocument, error) {
	pdfPath, err := s.Converter.ConvertToPDF(ctx, path, s.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("convert to pdf: %w", err)
	}

	doc, err := fitz.New(pdfPath)
	if err != nil {
		os.Remove(pdfPath)
		return nil, err
	}

	return &fitzDocument{
		doc:     doc,
		cleanup: func() { os.Remove(pdfPath) },
	}, nil
}
