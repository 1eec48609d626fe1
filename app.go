package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"voynich/api"
	"voynich/audio"
	"voynich/chunker"
	"voynich/config"
	"voynich/extract"
	"voynich/pipeline"
	"voynich/services"
	"voynich/synth"
)

// app holds the wired conversion stack shared by every command.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	db         *services.DatabaseService
	storage    pipeline.Storage
	outputDir  string
	gotenberg  *services.GotenbergService
	engine     *synth.HTTPEngine
	controller *pipeline.Controller
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	driver, dsn := cfg.DataSource()
	db, err := services.NewDatabaseService(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info().Str("driver", driver).Msg("Connected to database successfully")

	a := &app{cfg: cfg, logger: logger, db: db}

	if cfg.UsesS3() {
		s3, err := services.NewS3Storage(cfg)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.storage = s3
	} else {
		a.storage = services.NewLocalStorage(cfg.UploadDir, cfg.OutputDir)
		a.outputDir = cfg.OutputDir
	}

	a.gotenberg = services.NewGotenbergService(cfg.GotenbergURL)
	runner := services.ExecRunner{}

	ocr := extract.NewTesseractEngine(cfg.TesseractPath, cfg.OCRLanguage, cfg.WorkDir, runner)
	extractor := extract.NewDispatcher(ocr, extract.Options{
		MinCharsPerPage: cfg.OCRMinCharsPerPage,
		DPI:             cfg.OCRDPI,
	}, logger,
		extract.PDFStrategy{},
		extract.DocxStrategy{},
		extract.EPUBStrategy{},
		extract.FB2Strategy{},
		extract.OfficeStrategy{Converter: a.gotenberg, WorkDir: cfg.WorkDir},
		extract.ImageStrategy{},
		extract.TextStrategy{},
	)

	a.engine = synth.NewHTTPEngine(cfg.TTSBaseURL,
		synth.WithAPIKey(cfg.TTSAPIKey),
		synth.WithModel(cfg.TTSModel),
		synth.WithDefaultVoice(cfg.TTSDefaultVoice),
		synth.WithTimeout(cfg.TTSTimeout),
	)

	a.controller = pipeline.NewController(pipeline.Config{
		Repository:  db,
		Storage:     a.storage,
		Extractor:   extractor,
		Chunker:     chunker.New(cfg.ChunkMaxChars),
		Synthesizer: synth.NewOrchestrator(a.engine, filepath.Join(cfg.WorkDir, "segments"), logger),
		Assembler:   audio.NewAssembler(cfg.FFmpegPath, cfg.AudioBitrate, runner, logger),
		Logger:      logger,
		WorkDir:     cfg.WorkDir,
		ActiveLimit: cfg.ActiveJobsLimit,
	})

	return a, nil
}

// healthChecks lists the dependencies reported by /health.
func (a *app) healthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"database":  a.db.Ping,
		"gotenberg": a.gotenberg.Ping,
	}
	// Hosted speech APIs expose no health route.
	if a.cfg.TTSHealthCheck {
		checks["tts"] = a.engine.HealthCheck
	}
	return checks
}

func (a *app) Close() error {
	return a.db.Close()
}
