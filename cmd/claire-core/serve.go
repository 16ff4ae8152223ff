package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pathwaybio/claire-core/internal/apierr"
	"github.com/pathwaybio/claire-core/internal/auth"
	"github.com/pathwaybio/claire-core/internal/config"
	"github.com/pathwaybio/claire-core/internal/draft"
	"github.com/pathwaybio/claire-core/internal/file"
	"github.com/pathwaybio/claire-core/internal/healthcheck"
	"github.com/pathwaybio/claire-core/internal/httpapi"
	"github.com/pathwaybio/claire-core/internal/log"
	"github.com/pathwaybio/claire-core/internal/sop"
	"github.com/pathwaybio/claire-core/internal/storage"
	"github.com/pathwaybio/claire-core/internal/storage/local"
	"github.com/pathwaybio/claire-core/internal/storage/s3"
	"github.com/pathwaybio/claire-core/internal/submission"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return runServe(cmd.Context(), addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", "0.0.0.0:8080", "Address to listen on")
}

func runServe(ctx context.Context, addr string) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}

	if cfg.EagerInit {
		if err := backend.Ping(ctx); err != nil {
			return apierr.Wrap(apierr.KindStorageUnavailable, "storage unreachable at startup", err)
		}
	}

	authProvider, err := auth.New(cfg)
	if err != nil {
		return fmt.Errorf("constructing auth provider: %w", err)
	}

	sopRegistry := sop.New(backend, cfg.Storage.Buckets.Forms)
	drafts := draft.New(backend, cfg.Storage.Buckets.Drafts, draft.Config{
		TTL:        time.Duration(cfg.Drafts.TTLSeconds) * time.Second,
		MaxPerUser: cfg.Drafts.MaxPerUser,
	})
	files := file.New(backend, cfg.Storage.Buckets.ELN, file.Config{
		MaxSizeBytes:       cfg.Files.MaxSizeBytes,
		MaxSizeBytesInline: cfg.Files.MaxSizeBytesInline,
		AllowedMediaTypes:  cfg.Files.AllowedMediaTypes,
		SweepAge:           time.Duration(cfg.Files.SweepAgeSeconds) * time.Second,
		SweepInterval:      time.Duration(cfg.Files.SweepIntervalSeconds) * time.Second,
	})
	submissions := submission.New(backend, cfg.Storage.Buckets.ELN, cfg.Organization, sopRegistry, files, drafts)

	health := healthcheck.New(
		healthcheck.NewPingChecker("storage", backend.Ping),
		healthcheck.NewPingChecker("auth", authProvider.Ping),
	)

	router := httpapi.New(httpapi.Dependencies{
		Config:      cfg,
		Auth:        authProvider,
		SOPs:        sopRegistry,
		Drafts:      drafts,
		Files:       files,
		Submissions: submissions,
		Health:      health,
	})

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	files.StartSweep(sweepCtx)
	defer func() {
		cancelSweep()
		files.Stop()
	}()

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("claire-core listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendLocal:
		return local.New(cfg.Storage.Root, nil)
	case config.StorageBackendObject:
		return s3.New(ctx, cfg.Storage.Region, cfg.Storage.Buckets.Forms, cfg.Files.UploadPartSize)
	default:
		return nil, apierr.New(apierr.KindConfigInvalid, fmt.Sprintf("unrecognized storage backend %q", cfg.Storage.Backend))
	}
}
