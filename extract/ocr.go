package extract

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"
	"sync"
	"time"

	"voynich/services"
)

const (
	versionCheckTimeout = 10 * time.Second
	// recheckAfter is how long a failed version check is trusted.
	recheckAfter = time.Minute
)

// TesseractEngine shells out to the tesseract CLI. A successful availability
// check is cached for the lifetime of the engine; a failed one is retried
// after recheckAfter.
type TesseractEngine struct {
	binary   string
	language string
	workDir  string
	runner   services.CommandRunner
	now      func() time.Time

	mu        sync.Mutex
	available bool
	checkedAt time.Time
}

func NewTesseractEngine(binary, language, workDir string, runner services.CommandRunner) *TesseractEngine {
	if binary == "" {
		binary = "tesseract"
	}
	if language == "" {
		language = "eng"
	}
	if runner == nil {
		runner = services.ExecRunner{}
	}
	return &TesseractEngine{
		binary:   binary,
		language: language,
		workDir:  workDir,
		runner:   runner,
		now:      time.Now,
	}
}

// Available runs `tesseract --version`. The check is detached from ctx so a
// caller that is already cancelled cannot record the engine as missing.
func (e *TesseractEngine) Available(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.available {
		return true
	}
	if !e.checkedAt.IsZero() && e.now().Sub(e.checkedAt) < recheckAfter {
		return false
	}

	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), versionCheckTimeout)
	defer cancel()

	_, err := e.runner.Run(checkCtx, e.binary, "--version")
	e.available = err == nil
	e.checkedAt = e.now()
	return e.available
}

// Recognize writes img to a temporary PNG, runs tesseract on it and removes
// the file before returning.
func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image) (string, error) {
	f, err := os.CreateTemp(e.workDir, "ocr-page-*.png")
	if err != nil {
		return "", fmt.Errorf("create page image: %w", err)
	}
	defer os.Remove(f.Name())

	err = png.Encode(f, img)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("encode page image: %w", err)
	}

	res, err := e.runner.Run(ctx, e.binary, f.Name(), "stdout", "-l", e.language)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}
