package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage keeps uploads and outputs on the local filesystem.
type LocalStorage struct {
	uploadDir string
	outputDir string
}

func NewLocalStorage(uploadDir, outputDir string) *LocalStorage {
	return &LocalStorage{uploadDir: uploadDir, outputDir: outputDir}
}

func (s *LocalStorage) SaveSource(_ context.Context, key string, r io.Reader) error {
	path, err := safeJoin(s.uploadDir, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}
	return writeFile(path, r)
}

// FetchSource returns the stored upload in place; dir is not used.
func (s *LocalStorage) FetchSource(_ context.Context, key, _ string) (string, error) {
	path, err := safeJoin(s.uploadDir, key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("source not found: %w", err)
	}
	return path, nil
}

func (s *LocalStorage) PublishOutput(_ context.Context, localPath, key string) (string, error) {
	dest, err := safeJoin(s.outputDir, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := moveFile(localPath, dest); err != nil {
		return "", fmt.Errorf("failed to publish output: %w", err)
	}
	return dest, nil
}

func (s *LocalStorage) RemoveOutput(_ context.Context, key string) error {
	path, err := safeJoin(s.outputDir, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove output: %w", err)
	}
	// Drops the per-job directory once it is empty.
	if dir := filepath.Dir(path); dir != filepath.Clean(s.outputDir) {
		os.Remove(dir)
	}
	return nil
}

// safeJoin joins key under root and rejects keys escaping it.
func safeJoin(root, key string) (string, error) {
	path := filepath.Join(root, filepath.FromSlash(key))
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return path, nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// moveFile renames src to dst, copying when they sit on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := writeFile(dst, in); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
