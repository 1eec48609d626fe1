package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DocxStrategy reads the main document part of an Office Open XML file.
type DocxStrategy struct{}

func (DocxStrategy) Name() string { return "docx" }

func (DocxStrategy) Supports(format string) bool { return format == ".docx" }

func (DocxStrategy) Extract(_ context.Context, path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	rc, err := zr.Open("word/document.xml")
	if err != nil {
		return "", fmt.Errorf("docx has no word/document.xml: %w", err)
	}
	defer rc.Close()

	return docxText(rc)
}

// docxText walks WordprocessingML runs. Each paragraph ends with a newline.
func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}

	return b.String(), nil
}
