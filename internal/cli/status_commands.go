package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"yt-ingest/internal/config"
	"yt-ingest/internal/model"
	"yt-ingest/internal/store"
)

var (
	jobStatusOrder   = []string{model.JobPending, model.JobProcessing, model.JobCompleted, model.JobFailed, model.JobCancelled}
	videoStatusOrder = []string{model.VideoPending, model.VideoFetching, model.VideoDone, model.VideoFailed}
)

type jobStatusResult struct {
	Job model.ScrapingJob  `json:"job"`
	URL model.SubmittedURL `json:"url"`
}

type urlStatusResult struct {
	URL         model.SubmittedURL  `json:"url"`
	Jobs        []model.ScrapingJob `json:"jobs"`
	VideoCounts map[string]int      `json:"video_counts"`
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	jobID := fs.String("job", "", "job id")
	urlID := fs.String("url-id", "", "submitted URL id")
	summary := fs.Bool("summary", false, "whole-pipeline rollup (default when no id is given)")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *summary && (strings.TrimSpace(*jobID) != "" || strings.TrimSpace(*urlID) != "") {
		return errors.New("--summary cannot be combined with --job or --url-id")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	switch {
	case strings.TrimSpace(*jobID) != "":
		return printJobStatus(ctx, st, strings.TrimSpace(*jobID), *jsonOut)
	case strings.TrimSpace(*urlID) != "":
		return printURLStatus(ctx, st, strings.TrimSpace(*urlID), *jsonOut)
	default:
		return printSummary(ctx, st, *jsonOut)
	}
}

func printJobStatus(ctx context.Context, st *store.Store, jobID string, jsonOut bool) error {
	job, err := st.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no job with id %q", jobID)
	}
	if err != nil {
		return err
	}
	sub, err := st.GetSubmittedURL(ctx, job.SubmittedURLID)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(jobStatusResult{Job: job, URL: sub})
	}
	fmt.Printf("job_id: %s\n", job.ID)
	fmt.Printf("status: %s\n", job.Status)
	fmt.Printf("url: %s (%s)\n", sub.NormalizedURL, sub.Kind)
	fmt.Printf("progress: %d%% (%d/%d)\n", job.ProgressPercent, job.VideosProcessed, job.VideosFound)
	if job.ErrorMessage != "" {
		fmt.Printf("error: %s\n", job.ErrorMessage)
	}
	if job.StartedAt != "" {
		fmt.Printf("started_at: %s\n", job.StartedAt)
	}
	if job.CompletedAt != "" {
		fmt.Printf("completed_at: %s\n", job.CompletedAt)
	}
	return nil
}

func printURLStatus(ctx context.Context, st *store.Store, urlID string, jsonOut bool) error {
	sub, err := st.GetSubmittedURL(ctx, urlID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no submitted URL with id %q", urlID)
	}
	if err != nil {
		return err
	}
	jobs, err := st.JobsForURL(ctx, sub.ID)
	if err != nil {
		return err
	}
	videos, err := st.VideosForURL(ctx, sub.ID)
	if err != nil {
		return err
	}
	counts := map[string]int{}
	for _, v := range videos {
		counts[v.Status]++
	}

	if jsonOut {
		return printJSON(urlStatusResult{URL: sub, Jobs: jobs, VideoCounts: counts})
	}
	fmt.Printf("url_id: %s\n", sub.ID)
	fmt.Printf("kind: %s\n", sub.Kind)
	fmt.Printf("canonical: %s\n", sub.NormalizedURL)
	if sub.Title != "" {
		fmt.Printf("title: %s\n", sub.Title)
	}
	if len(jobs) == 0 {
		fmt.Println("jobs: none")
	} else {
		fmt.Println("jobs:")
		for _, j := range jobs {
			line := fmt.Sprintf("- %s [%s] %d%% (%d/%d)", j.ID, j.Status, j.ProgressPercent, j.VideosProcessed, j.VideosFound)
			if j.ErrorMessage != "" {
				line += " | " + truncateRunes(j.ErrorMessage, 60)
			}
			fmt.Println(line)
		}
	}
	fmt.Printf("videos: %d", len(videos))
	for _, status := range videoStatusOrder {
		if counts[status] > 0 {
			fmt.Printf(" | %s %d", status, counts[status])
		}
	}
	fmt.Println()
	if len(videos) > 0 {
		fmt.Printf("next: yt-ingest videos --url-id %s\n", sub.ID)
	}
	return nil
}

func printSummary(ctx context.Context, st *store.Store, jsonOut bool) error {
	sum, err := st.Summary(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(sum)
	}
	fmt.Printf("urls: %d\n", sum.URLs)
	fmt.Print("jobs:")
	for _, status := range jobStatusOrder {
		fmt.Printf(" %s %d", status, sum.Jobs[status])
	}
	fmt.Println()
	fmt.Print("videos:")
	for _, status := range videoStatusOrder {
		fmt.Printf(" %s %d", status, sum.Videos[status])
	}
	fmt.Println()
	fmt.Printf("stored: %s\n", formatBytesIEC(sum.StoredBytes))
	return nil
}

func runVideos(args []string) error {
	fs := flag.NewFlagSet("videos", flag.ContinueOnError)
	urlID := fs.String("url-id", "", "submitted URL id")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*urlID) == "" {
		fs.Usage()
		return errors.New("--url-id is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	sub, err := st.GetSubmittedURL(ctx, strings.TrimSpace(*urlID))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no submitted URL with id %q", strings.TrimSpace(*urlID))
	}
	if err != nil {
		return err
	}
	videos, err := st.VideosForURL(ctx, sub.ID)
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(videos)
	}
	fmt.Printf("url: %s\n", sub.NormalizedURL)
	fmt.Printf("videos: %d\n", len(videos))
	for _, v := range videos {
		fmt.Printf("- %s [%s] %s\n", v.ExternalID, v.Status, truncateRunes(v.Title, 64))
		switch v.Status {
		case model.VideoDone:
			fmt.Printf("    stored: %s (%s)\n", v.StorageKey, formatBytesIEC(v.FileSizeBytes))
		case model.VideoFailed:
			fmt.Printf("    error: %s\n", truncateRunes(v.ErrorMessage, 120))
		}
	}
	return nil
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	interval := fs.Duration("interval", 700*time.Millisecond, "refresh interval")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *interval <= 0 {
		return errors.New("--interval must be positive")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		if err := renderWatch(ctx, st); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-ticker.C:
		}
	}
}

func renderWatch(ctx context.Context, st *store.Store) error {
	sum, err := st.Summary(ctx)
	if err != nil {
		return err
	}
	jobs, err := st.ListJobs(ctx, store.JobFilter{Limit: 12})
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("\033[H\033[2J")
	b.WriteString(fmt.Sprintf("yt-ingest live | urls %d | jobs p:%d r:%d ok:%d fail:%d x:%d | videos done %d fail %d | stored %s\n",
		sum.URLs,
		sum.Jobs[model.JobPending], sum.Jobs[model.JobProcessing], sum.Jobs[model.JobCompleted],
		sum.Jobs[model.JobFailed], sum.Jobs[model.JobCancelled],
		sum.Videos[model.VideoDone], sum.Videos[model.VideoFailed],
		formatBytesIEC(sum.StoredBytes)))
	b.WriteString(strings.Repeat("-", 100) + "\n")
	if len(jobs) == 0 {
		b.WriteString("(no jobs yet)\n")
	} else {
		for _, j := range jobs {
			line := fmt.Sprintf("%s %-10s %3d%% (%d/%d)",
				shortID(j.ID), j.Status, j.ProgressPercent, j.VideosProcessed, j.VideosFound)
			if j.ErrorMessage != "" {
				line += " | " + truncateRunes(j.ErrorMessage, 48)
			}
			b.WriteString(line + "\n")
		}
	}
	fmt.Print(b.String())
	return nil
}
