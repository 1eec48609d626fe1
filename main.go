package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"voynich/config"
	"voynich/logging"
)

var (
	cfg *config.Config

	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "voynich",
	Short: "Voynich - document to narrated audio conversion service",
	Long: `Voynich extracts text from documents (PDF, DOCX, EPUB, FB2, images and
office formats), splits it into chunks, synthesizes speech for every chunk
and stitches the result into a single MP3.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.LogFormat = logFormat
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, console)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	return logging.New(cfg.LogLevel, cfg.LogFormat)
}
