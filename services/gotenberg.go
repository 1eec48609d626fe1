package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// GotenbergService renders word-processor documents (.doc, .odt, .rtf) to
// PDF through Gotenberg's LibreOffice route so the PDF extractor can read them.
type GotenbergService struct {
	baseURL string
	client  *http.Client
}

func NewGotenbergService(baseURL string) *GotenbergService {
	return &GotenbergService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 0, // bounded by the caller's context
		},
	}
}

// ConvertToPDF uploads inputPath and writes the rendered PDF into outDir.
// The caller owns the returned file.
func (g *GotenbergService) ConvertToPDF(ctx context.Context, inputPath, outDir string) (string, error) {
	file, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("files", filepath.Base(inputPath))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("failed to copy file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}

	url := fmt.Sprintf("%s/forms/libreoffice/convert", g.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gotenberg request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("gotenberg returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if outDir == "" {
		outDir = os.TempDir()
	}
	outFile, err := os.CreateTemp(outDir, "office-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, resp.Body); err != nil {
		os.Remove(outFile.Name())
		return "", fmt.Errorf("failed to save converted file: %w", err)
	}

	return outFile.Name(), nil
}

// Ping reports whether the Gotenberg instance answers its health route.
func (g *GotenbergService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gotenberg unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gotenberg health returned %d", resp.StatusCode)
	}
	return nil
}
