package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"yt-ingest/internal/config"
	"yt-ingest/internal/extract"
	"yt-ingest/internal/ingest"
	"yt-ingest/internal/spool"
	"yt-ingest/internal/storage"
)

func runWorker(args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	workers := fs.Int("workers", 0, "worker count override (0 = configured)")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *workers > 0 {
		cfg.Workers = *workers
		if cfg.ProxyMode == config.ProxyModePerWorker && len(cfg.Proxies) < cfg.Workers {
			return fmt.Errorf("proxy mode %q requires at least %d proxies for %d workers",
				cfg.ProxyMode, cfg.Workers, cfg.Workers)
		}
	}
	if !cfg.B2Configured() {
		return errors.New("B2 storage is not configured: set B2_KEY_ID, B2_APP_KEY, B2_BUCKET_ID, B2_BUCKET_NAME")
	}
	if err := extract.CheckDependencies(); err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	uploader := storage.NewB2Client(storage.Config{
		KeyID:      cfg.B2KeyID,
		AppKey:     cfg.B2AppKey,
		BucketID:   cfg.B2BucketID,
		BucketName: cfg.B2BucketName,
		APIURL:     cfg.B2APIURL,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := ingest.Pool{
		Workers:      cfg.Workers,
		PollInterval: cfg.PollInterval,
		JobPause:     cfg.JobPause,
		ReapInterval: cfg.ReapInterval,
		ReapAfter:    cfg.ReapAfter,
		ProxyFor:     cfg.ProxyForWorker,
	}
	err = pool.Run(ctx, ingest.Config{
		Store:     st,
		Extractor: extract.Client{},
		Uploader:  uploader,
		Spool:     spool.New(cfg.SpoolDir),
		Extract: extract.Options{
			CookiesPath: cfg.CookiesPath,
			Quality:     cfg.Quality,
		},
		Retry: ingest.RetryPolicy{
			MaxAttempts:    cfg.RetryMax,
			BaseDelay:      cfg.RetryBaseDelay,
			Multiplier:     cfg.RetryMultiplier,
			RateLimitDelay: cfg.RateLimitDelay,
		},
		RefreshDone: cfg.RefreshDone,
		Logger:      slog.New(slog.NewTextHandler(os.Stderr, nil)),
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type reapResult struct {
	RequeuedJobs     int `json:"requeued_jobs"`
	SweptWorkspaces  int `json:"swept_workspaces"`
	OlderThanSeconds int `json:"older_than_seconds"`
}

func runReap(args []string) error {
	fs := flag.NewFlagSet("reap", flag.ContinueOnError)
	olderThan := fs.Duration("older-than", 0, "requeue processing jobs idle longer than this (0 = configured)")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cutoff := cfg.ReapAfter
	if *olderThan > 0 {
		cutoff = *olderThan
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	requeued, err := st.ReapStuckJobs(ctx, cutoff)
	if err != nil {
		return err
	}
	swept, err := spool.New(cfg.SpoolDir).Sweep(cutoff)
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(reapResult{
			RequeuedJobs:     requeued,
			SweptWorkspaces:  swept,
			OlderThanSeconds: int(cutoff / time.Second),
		})
	}
	fmt.Printf("requeued_jobs: %d\n", requeued)
	fmt.Printf("swept_workspaces: %d\n", swept)
	fmt.Printf("older_than: %s\n", cutoff)
	return nil
}

type cleanupResult struct {
	DeletedJobs      int `json:"deleted_jobs"`
	OlderThanSeconds int `json:"older_than_seconds"`
}

func runCleanup(args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	olderThan := fs.Duration("older-than", 0, "delete terminal jobs older than this (0 = configured)")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	age := cfg.CleanupAfter
	if *olderThan > 0 {
		age = *olderThan
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	deleted, err := st.DeleteFinishedJobsBefore(context.Background(), time.Now().Add(-age))
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(cleanupResult{DeletedJobs: deleted, OlderThanSeconds: int(age / time.Second)})
	}
	fmt.Printf("deleted_jobs: %d\n", deleted)
	fmt.Printf("older_than: %s\n", age)
	return nil
}
