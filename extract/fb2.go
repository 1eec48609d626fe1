package extract

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/net/html/charset"
)

// FB2Strategy reads the first <body> of a FictionBook document. Later bodies
// hold notes and comments.
type FB2Strategy struct{}

func (FB2Strategy) Name() string { return "fb2" }

func (FB2Strategy) Supports(format string) bool { return format == ".fb2" }

func (FB2Strategy) Extract(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return fb2Text(f)
}

var fb2BlockElements = map[string]bool{
	"p": true, "title": true, "subtitle": true, "v": true,
	"text-author": true, "empty-line": true,
}

func fb2Text(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	var b strings.Builder
	depth := 0
	seenBody := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse fb2: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth > 0 {
				depth++
			} else if t.Name.Local == "body" && !seenBody {
				seenBody = true
				depth = 1
			}
		case xml.EndElement:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				return b.String(), nil
			}
			if fb2BlockElements[t.Name.Local] {
				b.WriteByte('\n')
			}
		case xml.CharData:
			if depth > 0 {
				b.Write(t)
			}
		}
	}

	if !seenBody {
		return "", errors.New("fb2 has no body")
	}
	return b.String(), nil
}
