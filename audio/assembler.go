// Package audio concatenates per-chunk audio into the final narration file.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"voynich/models"
	"voynich/services"
)

const DefaultBitrate = "128k"

var ErrAssemblyFailed = errors.New("assembly failed")

// Assembler joins segments with ffmpeg's concat demuxer and re-encodes the
// result as MP3 at a fixed bitrate.
type Assembler struct {
	ffmpeg  string
	bitrate string
	runner  services.CommandRunner
	logger  zerolog.Logger
}

func NewAssembler(ffmpeg, bitrate string, runner services.CommandRunner, logger zerolog.Logger) *Assembler {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if bitrate == "" {
		bitrate = DefaultBitrate
	}
	if runner == nil {
		runner = services.ExecRunner{}
	}
	return &Assembler{
		ffmpeg:  ffmpeg,
		bitrate: bitrate,
		runner:  runner,
		logger:  logger.With().Str("component", "audio").Logger(),
	}
}

// Concatenate writes segments, in the order given, to dest. Inputs are
// deleted only after dest is in place.
func (a *Assembler) Concatenate(ctx context.Context, segments []models.AudioSegment, dest string) error {
	if len(segments) == 0 {
		return fmt.Errorf("%w: no audio segments", ErrAssemblyFailed)
	}
	for _, s := range segments {
		if err := checkReadable(s.Path); err != nil {
			return fmt.Errorf("%w: segment %d: %v", ErrAssemblyFailed, s.Index, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("%w: create output dir: %v", ErrAssemblyFailed, err)
	}

	list, err := writeConcatList(filepath.Dir(dest), segments)
	if err != nil {
		return fmt.Errorf("%w: write concat list: %v", ErrAssemblyFailed, err)
	}
	defer os.Remove(list)

	partial := dest + ".part"
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0", "-i", list,
		"-vn", "-c:a", "libmp3lame", "-b:a", a.bitrate,
		"-f", "mp3", partial,
	}
	if _, err := a.runner.Run(ctx, a.ffmpeg, args...); err != nil {
		os.Remove(partial)
		return fmt.Errorf("%w: %v", ErrAssemblyFailed, err)
	}

	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return fmt.Errorf("%w: %v", ErrAssemblyFailed, err)
	}

	for _, s := range segments {
		if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn().Err(err).Str("path", s.Path).Msg("Failed to remove audio segment")
		}
	}

	a.logger.Debug().Int("segments", len(segments)).Str("output", dest).Msg("Audio assembled")
	return nil
}

func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// writeConcatList writes an ffmpeg concat demuxer script listing segments.
func writeConcatList(dir string, segments []models.AudioSegment) (string, error) {
	f, err := os.CreateTemp(dir, "concat-*.txt")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, s := range segments {
		abs, err := filepath.Abs(s.Path)
		if err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", err
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}

	_, err = f.WriteString(b.String())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
