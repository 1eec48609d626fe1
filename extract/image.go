package extract

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageStrategy treats a raster image as a single page without embedded
// text, so it always goes through OCR.
type ImageStrategy struct{}

var imageFormats = newFormatSet(".png", ".jpg", ".jpeg", ".tiff", ".tif", ".bmp", ".webp")

func (ImageStrategy) Name() string { return "image" }

func (ImageStrategy) Supports(format string) bool { return imageFormats.has(format) }

// Extract returns no text. Recognition happens in the dispatcher.
func (ImageStrategy) Extract(context.Context, string) (string, error) { return "", nil }

func (ImageStrategy) Open(_ context.Context, path string) (PagedDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return imageDocument{img: img}, nil
}

type imageDocument struct {
	img image.Image
}

func (imageDocument) PageCount() int { return 1 }

func (imageDocument) PageText(int) (string, error) { return "", nil }

func (d imageDocument) RenderPage(page int, _ float64) (image.Image, error) {
	if page != 0 {
		return nil, fmt.Errorf("page %d out of range", page)
	}
	return d.img, nil
}

func (imageDocument) Close() error { return nil }
