package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/pathwaybio/claire-core/internal/config"
	"github.com/pathwaybio/claire-core/internal/file"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single orphan file sweep pass and exit",
	Long: `sweep deletes unbound uploaded files older than the configured sweep
age, the same pass "serve" runs on a ticker. Useful for a cron-driven
deployment that would rather not keep a background goroutine alive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(ctx)
		if err != nil {
			return err
		}

		backend, err := newBackend(ctx, cfg)
		if err != nil {
			return err
		}

		files := file.New(backend, cfg.Storage.Buckets.ELN, file.Config{
			MaxSizeBytes:       cfg.Files.MaxSizeBytes,
			MaxSizeBytesInline: cfg.Files.MaxSizeBytesInline,
			AllowedMediaTypes:  cfg.Files.AllowedMediaTypes,
			SweepAge:           time.Duration(cfg.Files.SweepAgeSeconds) * time.Second,
			SweepInterval:      time.Duration(cfg.Files.SweepIntervalSeconds) * time.Second,
		})

		return files.Sweep(ctx)
	},
}
