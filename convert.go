package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"voynich/models"
	"voynich/pipeline"
)

var (
	convertVoice  string
	convertOut    string
	convertSQLite string
)

var convertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Convert one document in-process and wait for the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runConvert,
}

func init() {
	convertCmd.Flags().StringVar(&convertVoice, "voice", "", "voice id (defaults to the engine default)")
	convertCmd.Flags().StringVar(&convertOut, "out", ".", "directory the MP3 is written to")
	convertCmd.Flags().StringVar(&convertSQLite, "db", ":memory:", "SQLite database for the job record")
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	workDir, err := os.MkdirTemp(cfg.WorkDir, "voynich-convert-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	cfg.DBDriver = "sqlite3"
	cfg.SQLitePath = convertSQLite
	cfg.StorageDriver = "local"
	cfg.UploadDir = filepath.Join(workDir, "uploads")
	cfg.OutputDir = convertOut
	cfg.WorkDir = workDir

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	executor := pipeline.NewLocalExecutor(a.controller.Run, logger)
	a.controller.SetExecutor(executor)

	src, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer src.Close()

	job, err := a.controller.Create(ctx, pipeline.CreateRequest{
		Filename: filepath.Base(args[0]),
		VoiceID:  convertVoice,
		Source:   src,
	})
	if err != nil {
		return err
	}

	finished := make(chan struct{})
	go func() {
		executor.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		if _, err := a.controller.Cancel(context.Background(), job.ID); err != nil {
			logger.Warn().Err(err).Str("job_id", job.ID).Msg("Cancel failed")
		}
		<-finished
	}

	report, err := a.controller.Status(context.Background(), job.ID)
	if err != nil {
		return err
	}

	switch report.Status {
	case models.StatusCompleted:
		fmt.Fprintln(cmd.OutOrStdout(), report.OutputPath)
		return nil
	case models.StatusCancelled:
		return fmt.Errorf("conversion %s cancelled", job.ID)
	default:
		return fmt.Errorf("conversion %s %s: %s", job.ID, report.Status, report.ErrorMessage)
	}
}
