package main

import (
	"context"

	"github.com/spf13/cobra"

	"voynich/synth"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema and seed builtin voices",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	ctx := context.Background()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.db.SeedVoices(ctx, synth.BuiltinVoices...); err != nil {
		return err
	}
	logger.Info().Int("voices", len(synth.BuiltinVoices)).Msg("Schema migrated")
	return nil
}
