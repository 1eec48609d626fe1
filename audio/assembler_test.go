package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voynich/models"
	"voynich/services"
)

// fakeFFmpeg records the concat list it was given and writes the joined
// input bytes to the output path, standing in for the real encoder.
type fakeFFmpeg struct {
	args []string
	list string
	err  error
}

func (f *fakeFFmpeg) Run(_ context.Context, _ string, args ...string) (services.CommandResult, error) {
	f.args = args
	if f.err != nil {
		return services.CommandResult{ExitCode: 1}, f.err
	}

	var listPath string
	for i, a := range args {
		if a == "-i" {
			listPath = args[i+1]
		}
	}
	list, err := os.ReadFile(listPath)
	if err != nil {
		return services.CommandResult{}, err
	}
	f.list = string(list)

	var joined []byte
	for _, line := range strings.Split(strings.TrimSpace(f.list), "\n") {
		path := strings.TrimSuffix(strings.TrimPrefix(line, "file '"), "'")
		data, err := os.ReadFile(path)
		if err != nil {
			return services.CommandResult{}, err
		}
		joined = append(joined, data...)
	}
	return services.CommandResult{}, os.WriteFile(args[len(args)-1], joined, 0o644)
}

func writeSegments(t *testing.T, dir string, contents ...string) []models.AudioSegment {
	t.Helper()

	segments := make([]models.AudioSegment, len(contents))
	for i, c := range contents {
		p := filepath.Join(dir, "seg"+string(rune('0'+i))+".mp3")
		require.NoError(t, os.WriteFile(p, []byte(c), 0o644))
		segments[i] = models.AudioSegment{Index: i, Path: p}
	}
	return segments
}

func TestConcatenateInOrderAndDeletesInputs(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "outputs")
	segments := writeSegments(t, work, "AAA", "BBB", "CCC")
	ffmpeg := &fakeFFmpeg{}
	a := NewAssembler("", "", ffmpeg, zerolog.Nop())

	dest := filepath.Join(outDir, "book.mp3")
	require.NoError(t, a.Concatenate(context.Background(), segments, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "AAABBBCCC", string(data))

	for _, s := range segments {
		assert.NoFileExists(t, s.Path)
	}
	assert.Contains(t, strings.Join(ffmpeg.args, " "), "-c:a libmp3lame -b:a 128k")

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "concat list and partial output must be gone")
}

func TestConcatenateMissingInputKeepsOthers(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	segments := writeSegments(t, work, "AAA", "BBB")
	segments = append(segments, models.AudioSegment{Index: 2, Path: filepath.Join(work, "missing.mp3")})
	ffmpeg := &fakeFFmpeg{}
	a := NewAssembler("", "", ffmpeg, zerolog.Nop())

	dest := filepath.Join(t.TempDir(), "book.mp3")
	err := a.Concatenate(context.Background(), segments, dest)

	require.ErrorIs(t, err, ErrAssemblyFailed)
	assert.Contains(t, err.Error(), "segment 2")
	assert.Nil(t, ffmpeg.args, "encoder must not run")
	assert.FileExists(t, segments[0].Path)
	assert.FileExists(t, segments[1].Path)
	assert.NoFileExists(t, dest)
}

func TestConcatenateEncoderFailureKeepsInputs(t *testing.T) {
	t.Parallel()

	segments := writeSegments(t, t.TempDir(), "AAA")
	a := NewAssembler("/usr/bin/ffmpeg", "192k", &fakeFFmpeg{err: errors.New("exit status 1")}, zerolog.Nop())

	dest := filepath.Join(t.TempDir(), "book.mp3")
	err := a.Concatenate(context.Background(), segments, dest)

	require.ErrorIs(t, err, ErrAssemblyFailed)
	assert.FileExists(t, segments[0].Path)
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+".part")
}

func TestConcatenateNoSegments(t *testing.T) {
	t.Parallel()

	a := NewAssembler("", "", &fakeFFmpeg{}, zerolog.Nop())
	err := a.Concatenate(context.Background(), nil, filepath.Join(t.TempDir(), "x.mp3"))
	assert.ErrorIs(t, err, ErrAssemblyFailed)
}

func TestWriteConcatListQuotes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	list, err := writeConcatList(dir, []models.AudioSegment{{Path: "/tmp/it's.mp3"}})
	require.NoError(t, err)

	data, err := os.ReadFile(list)
	require.NoError(t, err)
	assert.Equal(t, "file '/tmp/it'\\''s.mp3'\n", string(data))
}
