package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voynich/audio"
	"voynich/chunker"
	"voynich/extract"
	"voynich/models"
	"voynich/services"
	"voynich/synth"
)

// fakeEngine returns the chunk text as audio bytes. Calls listed in failOn
// fail; onCall runs before each call returns.
type fakeEngine struct {
	mu     sync.Mutex
	calls  []string
	failOn map[int]error
	onCall func(call int)
}

func (e *fakeEngine) Synthesize(_ context.Context, text, voice string) (io.ReadCloser, error) {
	e.mu.Lock()
	e.calls = append(e.calls, text)
	call := len(e.calls)
	e.mu.Unlock()

	if e.onCall != nil {
		e.onCall(call)
	}
	if err, ok := e.failOn[call]; ok {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(voice + ":" + text + "|")), nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// fakeAssembler joins segments byte-wise and deletes them on success.
type fakeAssembler struct {
	err      error
	calls    int
	onConcat func()
}

func (a *fakeAssembler) Concatenate(_ context.Context, segments []models.AudioSegment, dest string) error {
	a.calls++
	if a.err != nil {
		return a.err
	}
	var buf bytes.Buffer
	for _, s := range segments {
		data, err := os.ReadFile(s.Path)
		if err != nil {
			return err
		}
		buf.Write(data)
	}
	if err := os.WriteFile(dest, buf.Bytes(), 0o644); err != nil {
		return err
	}
	for _, s := range segments {
		os.Remove(s.Path)
	}
	if a.onConcat != nil {
		a.onConcat()
	}
	return nil
}

type fakeExecutor struct {
	mu          sync.Mutex
	dispatched  []string
	terminated  []string
	dispatchErr error
}

func (e *fakeExecutor) Dispatch(_ context.Context, jobID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dispatchErr != nil {
		return "", e.dispatchErr
	}
	e.dispatched = append(e.dispatched, jobID)
	return "task-" + jobID, nil
}

func (e *fakeExecutor) Terminate(_ context.Context, handle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terminated = append(e.terminated, handle)
	return nil
}

// recordingRepo keeps every applied progress value.
type recordingRepo struct {
	Repository
	mu       sync.Mutex
	progress []float64
}

func (r *recordingRepo) UpdateJob(ctx context.Context, id string, u models.JobUpdate, expected ...models.JobStatus) (bool, error) {
	applied, err := r.Repository.UpdateJob(ctx, id, u, expected...)
	if err == nil && applied && u.Progress != nil {
		r.mu.Lock()
		r.progress = append(r.progress, *u.Progress)
		r.mu.Unlock()
	}
	return applied, err
}

type harness struct {
	ctrl       *Controller
	db         *services.DatabaseService
	repo       *recordingRepo
	engine     *fakeEngine
	assembler  *fakeAssembler
	executor   *fakeExecutor
	storage    *services.LocalStorage
	segmentDir string
	outputDir  string
	now        func() time.Time
}

func newHarness(t *testing.T, maxChars int) *harness {
	t.Helper()

	db, err := services.NewDatabaseService(services.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	root := t.TempDir()
	h := &harness{
		db:         db,
		repo:       &recordingRepo{Repository: db},
		engine:     &fakeEngine{},
		assembler:  &fakeAssembler{},
		executor:   &fakeExecutor{},
		storage:    services.NewLocalStorage(filepath.Join(root, "uploads"), filepath.Join(root, "outputs")),
		segmentDir: filepath.Join(root, "segments"),
		outputDir:  filepath.Join(root, "outputs"),
		now:        time.Now,
	}

	logger := zerolog.Nop()
	extractor := extract.NewDispatcher(nil, extract.Options{}, logger,
		extract.TextStrategy{}, extract.ImageStrategy{})

	h.ctrl = NewController(Config{
		Repository:  h.repo,
		Executor:    h.executor,
		Storage:     h.storage,
		Extractor:   extractor,
		Chunker:     chunker.New(maxChars),
		Synthesizer: synth.NewOrchestrator(h.engine, h.segmentDir, logger),
		Assembler:   h.assembler,
		Logger:      logger,
		WorkDir:     filepath.Join(root, "work"),
		Now:         func() time.Time { return h.now() },
	})
	return h
}

func (h *harness) create(t *testing.T, filename, text string) *models.ConversionJob {
	t.Helper()
	job, err := h.ctrl.Create(context.Background(), CreateRequest{Filename: filename, Source: strings.NewReader(text)})
	require.NoError(t, err)
	return job
}

func (h *harness) job(t *testing.T, id string) *models.ConversionJob {
	t.Helper()
	job, err := h.db.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func assertNoSegments(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries, "segment files left behind")
}

func TestCreatePersistsPendingAndDispatches(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 500)
	job, err := h.ctrl.Create(context.Background(), CreateRequest{
		Filename: "dir/My Book.TXT",
		VoiceID:  "nova",
		Source:   strings.NewReader("Hello."),
	})
	require.NoError(t, err)

	assert.Equal(t, "My Book.TXT", job.Filename)
	assert.Equal(t, ".txt", job.Format)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, "task-"+job.ID, job.TaskID)
	assert.Equal(t, []string{job.ID}, h.executor.dispatched)

	stored := h.job(t, job.ID)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, "nova", stored.VoiceID)
	assert.Equal(t, "task-"+job.ID, stored.TaskID)
	assert.Nil(t, stored.StartedAt)
}

func TestCreateRejectsUnsupportedFormat(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 500)
	_, err := h.ctrl.Create(context.Background(), CreateRequest{Filename: "book.mobi", Source: strings.NewReader("x")})
	require.Error(t, err)
	assert.Equal(t, KindUnsupportedFormat, KindOf(err))
	assert.Empty(t, h.executor.dispatched)

	active, err := h.ctrl.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCreateDispatchFailureFailsJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 500)
	h.executor.dispatchErr = errors.New("redis down")

	job, err := h.ctrl.Create(context.Background(), CreateRequest{Filename: "a.txt", Source: strings.NewReader("Hi.")})
	require.Error(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.StatusFailed, job.Status)

	stored := h.job(t, job.ID)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "redis down")
	assert.Empty(t, stored.OutputPath)
}

func TestRunEndToEndSingleChunk(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 500)
	job := h.create(t, "story.txt", "It was late.\nThe  lamp flickered!\n\nWho knocked?")

	require.NoError(t, h.ctrl.Run(context.Background(), job.ID))

	assert.Equal(t, []string{"It was late. The lamp flickered! Who knocked?"}, h.engine.calls)
	assert.Equal(t, 1, h.assembler.calls)

	done := h.job(t, job.ID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, 100.0, done.Progress)
	assert.Equal(t, 1, done.ChunksTotal)
	assert.Equal(t, 1, done.ChunksCompleted)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.ErrorMessage)
	assert.Equal(t, filepath.Join(h.outputDir, job.ID, "story.mp3"), done.OutputPath)

	data, err := os.ReadFile(done.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, ":It was late. The lamp flickered! Who knocked?|", string(data))
	assertNoSegments(t, h.segmentDir)
}

func TestRunReportsProgressPerChunk(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	job := h.create(t, "four.txt", "One one. Two two. Six six. Ten ten.")

	require.NoError(t, h.ctrl.Run(context.Background(), job.ID))

	assert.Equal(t, 4, h.engine.callCount())
	assert.Equal(t, []float64{25, 50, 75, 100}, h.repo.progress)

	done := h.job(t, job.ID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, 4, done.ChunksCompleted)
	assert.Equal(t, 4, done.ChunksTotal)
}

func TestRunProgressNeverHundredBeforeCompletion(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	h.assembler.err = audio.ErrAssemblyFailed
	job := h.create(t, "two.txt", "One one. Two two.")

	require.NoError(t, h.ctrl.Run(context.Background(), job.ID))

	failed := h.job(t, job.ID)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, 50.0, failed.Progress)
	assert.Equal(t, 2, failed.ChunksCompleted)
	assert.Empty(t, failed.OutputPath)
	assert.Contains(t, failed.ErrorMessage, "assembly failed")
	assertNoSegments(t, h.segmentDir)
}

func TestRunSynthesisFailureOnSecondChunk(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	h.engine.failOn = map[int]error{2: errors.New("voice model crashed")}
	job := h.create(t, "three.txt", "One one. Two two. Six six.")

	require.NoError(t, h.ctrl.Run(context.Background(), job.ID))

	failed := h.job(t, job.ID)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, 1, failed.ChunksCompleted)
	assert.Equal(t, 3, failed.ChunksTotal)
	assert.InDelta(t, 33.33, failed.Progress, 0.01)
	assert.Empty(t, failed.OutputPath)
	assert.Contains(t, failed.ErrorMessage, "synthesis failed")
	assert.Contains(t, failed.ErrorMessage, "voice model crashed")
	assert.NotNil(t, failed.StartedAt)
	assert.Nil(t, failed.CompletedAt)

	assert.Equal(t, 2, h.engine.callCount())
	assert.Zero(t, h.assembler.calls)
	assertNoSegments(t, h.segmentDir)
}

func TestRunExtractionFailures(t *testing.T) {
	t.Parallel()

	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, image.NewGray(image.Rect(0, 0, 2, 2))))

	tests := []struct {
		name     string
		filename string
		content  string
		message  string
	}{
		{"no readable text", "blank.txt", " \n\t ", "no readable text"},
		{"ocr unavailable", "scan.png", pngBuf.String(), "ocr engine unavailable"},
		{"bad encoding", "bad.txt", "\xff\xfe", "extraction failed"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, 500)
			job := h.create(t, tt.filename, tt.content)

			require.NoError(t, h.ctrl.Run(context.Background(), job.ID))

			failed := h.job(t, job.ID)
			assert.Equal(t, models.StatusFailed, failed.Status)
			assert.Contains(t, failed.ErrorMessage, tt.message)
			assert.Zero(t, failed.Progress)
			assert.Zero(t, h.engine.callCount())
		})
	}
}

func TestRunUnsupportedFormatStoredJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 500)
	job := &models.ConversionJob{ID: "legacy", Filename: "x.mobi", Format: ".mobi", Status: models.StatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, h.db.CreateJob(context.Background(), job))
	require.NoError(t, h.storage.SaveSource(context.Background(), SourceKey(job), strings.NewReader("MOBI")))

	require.NoError(t, h.ctrl.Run(context.Background(), job.ID))

	failed := h.job(t, job.ID)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, "unsupported format")
}

func TestRunSkipsNonPendingJobs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 500)
	job := h.create(t, "a.txt", "Hello.")
	_, err := h.ctrl.Cancel(context.Background(), job.ID)
	require.NoError(t, err)

	require.NoError(t, h.ctrl.Run(context.Background(), job.ID))
	assert.Zero(t, h.engine.callCount())
	assert.Equal(t, models.StatusCancelled, h.job(t, job.ID).Status)

	processing := models.StatusProcessing
	other := h.create(t, "b.txt", "Hello.")
	_, err = h.db.UpdateJob(context.Background(), other.ID, models.JobUpdate{Status: &processing})
	require.NoError(t, err)
	assert.ErrorIs(t, h.ctrl.Run(context.Background(), other.ID), ErrInvalidTransition)
}

func TestRunUnknownJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 500)
	assert.ErrorIs(t, h.ctrl.Run(context.Background(), "nope"), ErrJobNotFound)
}

func TestCancelFromTerminalStatesRejected(t *testing.T) {
	t.Parallel()

	for _, status := range []models.JobStatus{models.StatusCompleted, models.StatusFailed, models.StatusCancelled} {
		h := newHarness(t, 500)
		job := h.create(t, "a.txt", "Hello.")
		s := status
		msg := "kept"
		_, err := h.db.UpdateJob(context.Background(), job.ID, models.JobUpdate{Status: &s, ErrorMessage: &msg})
		require.NoError(t, err)
		before := h.job(t, job.ID)

		_, err = h.ctrl.Cancel(context.Background(), job.ID)
		require.ErrorIs(t, err, ErrInvalidTransition, status)
		assert.Equal(t, KindInvalidTransition, KindOf(err))

		assert.Equal(t, before, h.job(t, job.ID), status)
		assert.Empty(t, h.executor.terminated)
	}
}

func TestCancelPendingTerminatesTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 500)
	job := h.create(t, "a.txt", "Hello.")

	cancelled, err := h.ctrl.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, []string{"task-" + job.ID}, h.executor.terminated)
	assert.Equal(t, models.StatusCancelled, h.job(t, job.ID).Status)
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 500)
	_, err := h.ctrl.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.Equal(t, KindJobNotFound, KindOf(err))
}

func TestCancelDuringSynthesisStopsAtChunkBoundary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	job := h.create(t, "three.txt", "One one. Two two. Six six.")
	h.engine.onCall = func(call int) {
		if call == 1 {
			_, err := h.ctrl.Cancel(context.Background(), job.ID)
			assert.NoError(t, err)
		}
	}

	require.NoError(t, h.ctrl.Run(context.Background(), job.ID))

	assert.Equal(t, 1, h.engine.callCount(), "no chunk may start after cancellation")
	stopped := h.job(t, job.ID)
	assert.Equal(t, models.StatusCancelled, stopped.Status)
	assert.Empty(t, stopped.OutputPath)
	assert.Zero(t, stopped.Progress)
	assert.Zero(t, h.assembler.calls)
	assertNoSegments(t, h.segmentDir)
}

func TestCancelDuringAssemblyRemovesPublishedOutput(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 500)
	job := h.create(t, "late.txt", "Almost done.")
	h.assembler.onConcat = func() {
		_, err := h.ctrl.Cancel(context.Background(), job.ID)
		assert.NoError(t, err)
	}

	require.NoError(t, h.ctrl.Run(context.Background(), job.ID))

	stopped := h.job(t, job.ID)
	assert.Equal(t, models.StatusCancelled, stopped.Status)
	assert.Empty(t, stopped.OutputPath)
	assert.NoFileExists(t, filepath.Join(h.outputDir, job.ID, "late.mp3"))
	assert.NoDirExists(t, filepath.Join(h.outputDir, job.ID))
}

func TestRunContextCancelledMarksCancelled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	job := h.create(t, "three.txt", "One one. Two two. Six six.")

	ctx, cancel := context.WithCancel(context.Background())
	h.engine.onCall = func(call int) {
		if call == 2 {
			cancel()
		}
	}

	require.NoError(t, h.ctrl.Run(ctx, job.ID))

	stopped := h.job(t, job.ID)
	assert.Equal(t, models.StatusCancelled, stopped.Status)
	assert.Empty(t, stopped.OutputPath)
	assertNoSegments(t, h.segmentDir)
}

func TestStatusETA(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 500)
	started := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return started.Add(10 * time.Second) }

	job := &models.ConversionJob{
		ID: "eta", Filename: "a.txt", Format: ".txt", Status: models.StatusProcessing,
		CreatedAt: started, StartedAt: &started, ChunksTotal: 8, ChunksCompleted: 2, Progress: 25,
	}
	require.NoError(t, h.db.CreateJob(context.Background(), job))

	report, err := h.ctrl.Status(context.Background(), "eta")
	require.NoError(t, err)
	require.NotNil(t, report.ETASeconds)
	assert.InDelta(t, 30.0, *report.ETASeconds, 0.001)
	assert.Equal(t, models.StatusProcessing, report.Status)
}

func TestStatusWithoutETA(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 500)
	job := h.create(t, "a.txt", "Hello.")

	report, err := h.ctrl.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Nil(t, report.ETASeconds)

	require.NoError(t, h.ctrl.Run(context.Background(), job.ID))
	report, err = h.ctrl.Status(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, report.Status)
	assert.Nil(t, report.ETASeconds)

	_, err = h.ctrl.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestListActiveNewestFirst(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 500)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		h.now = func() time.Time { return at }
		ids = append(ids, h.create(t, "a.txt", "Hello.").ID)
	}
	h.now = time.Now
	require.NoError(t, h.ctrl.Run(context.Background(), ids[1]))

	active, err := h.ctrl.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, ids[2], active[0].ID)
	assert.Equal(t, ids[0], active[1].ID)
}

func TestLocalExecutorRunsAndTerminates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10)
	local := NewLocalExecutor(h.ctrl.Run, zerolog.Nop())
	h.ctrl.SetExecutor(local)

	job := h.create(t, "two.txt", "One one. Two two.")
	local.Wait()

	done := h.job(t, job.ID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.NotEmpty(t, done.TaskID)
	assert.NoError(t, local.Terminate(context.Background(), done.TaskID))
}
