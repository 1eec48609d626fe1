package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// EPUBStrategy reads the XHTML content documents of an EPUB in spine order.
type EPUBStrategy struct{}

func (EPUBStrategy) Name() string { return "epub" }

func (EPUBStrategy) Supports(format string) bool { return format == ".epub" }

func (EPUBStrategy) Extract(ctx context.Context, filePath string) (string, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return "", fmt.Errorf("open epub: %w", err)
	}
	defer zr.Close()

	opfPath, err := epubRootFile(&zr.Reader)
	if err != nil {
		return "", err
	}

	docs, err := epubContentDocuments(&zr.Reader, opfPath)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, name := range docs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rc, err := zr.Open(name)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", name, err)
		}
		err = htmlText(rc, &b)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", name, err)
		}
		b.WriteByte('\n')
	}

	return b.String(), nil
}

type epubContainer struct {
	RootFiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Manifest []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

func readXML(zr *zip.Reader, name string, v any) error {
	rc, err := zr.Open(name)
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(rc).Decode(v)
}

func epubRootFile(zr *zip.Reader) (string, error) {
	var c epubContainer
	if err := readXML(zr, "META-INF/container.xml", &c); err != nil {
		return "", fmt.Errorf("read container.xml: %w", err)
	}
	if len(c.RootFiles) == 0 || c.RootFiles[0].FullPath == "" {
		return "", errors.New("container.xml names no rootfile")
	}
	return c.RootFiles[0].FullPath, nil
}

func isXHTML(mediaType string) bool {
	return mediaType == "application/xhtml+xml" || mediaType == "text/html"
}

// epubContentDocuments lists archive paths of the readable documents, in
// spine order when the spine is present and manifest order otherwise.
func epubContentDocuments(zr *zip.Reader, opfPath string) ([]string, error) {
	var pkg epubPackage
	if err := readXML(zr, opfPath, &pkg); err != nil {
		return nil, fmt.Errorf("read %s: %w", opfPath, err)
	}

	base := path.Dir(opfPath)
	resolve := func(href string) string {
		if u, err := url.PathUnescape(href); err == nil {
			href = u
		}
		if i := strings.IndexByte(href, '#'); i >= 0 {
			href = href[:i]
		}
		return path.Clean(path.Join(base, href))
	}

	byID := make(map[string]string, len(pkg.Manifest))
	var manifestOrder []string
	for _, item := range pkg.Manifest {
		if !isXHTML(item.MediaType) {
			continue
		}
		p := resolve(item.Href)
		byID[item.ID] = p
		manifestOrder = append(manifestOrder, p)
	}

	if len(pkg.Spine) == 0 {
		return manifestOrder, nil
	}

	docs := make([]string, 0, len(pkg.Spine))
	for _, ref := range pkg.Spine {
		if p, ok := byID[ref.IDRef]; ok {
			docs = append(docs, p)
		}
	}
	return docs, nil
}

var htmlBlockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Tr: true, atom.Section: true,
}

// htmlText appends the visible text of an HTML document to b.
func htmlText(r io.Reader, b *strings.Builder) error {
	z := html.NewTokenizer(r)
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return nil
			}
			return z.Err()
		case html.StartTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Script || a == atom.Style || a == atom.Head {
				skip++
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Br {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Script || a == atom.Style || a == atom.Head {
				if skip > 0 {
					skip--
				}
				continue
			}
			if skip == 0 && htmlBlockElements[a] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}
