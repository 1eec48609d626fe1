package extract

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"
)

// TextStrategy reads plain UTF-8 text files.
type TextStrategy struct{}

var textFormats = newFormatSet(".txt", ".text", ".md")

func (TextStrategy) Name() string { return "text" }

func (TextStrategy) Supports(format string) bool { return textFormats.has(format) }

func (TextStrategy) Extract(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s is not valid UTF-8", path)
	}
	return string(data), nil
}
