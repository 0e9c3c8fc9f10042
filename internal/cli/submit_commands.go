package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"yt-ingest/internal/classify"
	"yt-ingest/internal/config"
	"yt-ingest/internal/model"
	"yt-ingest/internal/store"
)

type submitResult struct {
	URL        model.SubmittedURL `json:"url"`
	Job        model.ScrapingJob  `json:"job"`
	CreatedURL bool               `json:"created_url"`
	QueuedJob  bool               `json:"queued_job"`
}

// queueJobForURL enqueues a job unless the URL already has one pending or
// processing; the in-flight job is returned instead of a duplicate.
func queueJobForURL(ctx context.Context, st *store.Store, urlID string) (model.ScrapingJob, bool, error) {
	active, err := st.ActiveJobForURL(ctx, urlID)
	if err == nil {
		return active, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.ScrapingJob{}, false, err
	}
	job, err := st.CreateJob(ctx, urlID)
	if err != nil {
		return model.ScrapingJob{}, false, err
	}
	return job, true, nil
}

func runSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	rawURL := fs.String("url", "", "YouTube video/playlist/channel/user URL")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	raw := strings.TrimSpace(*rawURL)
	if raw == "" {
		var err error
		raw, err = promptRequired("YouTube URL")
		if err != nil {
			return err
		}
	}

	// Classification happens before any storage I/O so garbage URLs fail
	// fast with a parse error, not a half-created row.
	cls, err := classify.Classify(raw)
	if err != nil {
		return err
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
	sub, createdURL, err := st.FindOrCreateSubmittedURL(ctx, raw, cls)
	if err != nil {
		return err
	}
	job, queued, err := queueJobForURL(ctx, st, sub.ID)
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(submitResult{URL: sub, Job: job, CreatedURL: createdURL, QueuedJob: queued})
	}

	fmt.Printf("url_id: %s\n", sub.ID)
	fmt.Printf("kind: %s\n", sub.Kind)
	fmt.Printf("canonical: %s\n", sub.NormalizedURL)
	if !createdURL {
		fmt.Println("note: URL was already submitted; reusing the existing record")
	}
	if queued {
		fmt.Printf("job_id: %s (queued)\n", job.ID)
		fmt.Println("next: yt-ingest worker")
	} else {
		fmt.Printf("job_id: %s (already %s)\n", job.ID, job.Status)
	}
	return nil
}

func runResubmit(args []string) error {
	fs := flag.NewFlagSet("resubmit", flag.ContinueOnError)
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
	job, queued, err := queueJobForURL(ctx, st, sub.ID)
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(submitResult{URL: sub, Job: job, QueuedJob: queued})
	}

	fmt.Printf("url_id: %s\n", sub.ID)
	fmt.Printf("canonical: %s\n", sub.NormalizedURL)
	if queued {
		fmt.Printf("job_id: %s (queued)\n", job.ID)
		fmt.Println("next: yt-ingest worker")
	} else {
		fmt.Printf("job_id: %s (already %s)\n", job.ID, job.Status)
	}
	return nil
}

func runCancel(args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	jobID := fs.String("job", "", "job id")
	yes := fs.Bool("yes", false, "skip confirmation")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*jobID) == "" {
		fs.Usage()
		return errors.New("--job is required")
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
	job, err := st.GetJob(ctx, strings.TrimSpace(*jobID))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no job with id %q", strings.TrimSpace(*jobID))
	}
	if err != nil {
		return err
	}

	if !*yes {
		ok, err := promptConfirm(fmt.Sprintf("cancel job %s (%s)? [y/N] ", job.ID, job.Status))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("aborted")
			return nil
		}
	}

	if err := st.TransitionJob(ctx, job.ID, model.JobCancelled, "cancelled by operator"); err != nil {
		return err
	}
	job, err = st.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(job)
	}
	fmt.Printf("job cancelled: %s\n", job.ID)
	if job.StartedAt != "" {
		fmt.Println("note: a worker mid-job finishes its current video, then stops")
	}
	return nil
}

func runRetry(args []string) error {
	fs := flag.NewFlagSet("retry", flag.ContinueOnError)
	videoID := fs.String("video", "", "video id")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*videoID) == "" {
		fs.Usage()
		return errors.New("--video is required")
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
	video, err := st.GetVideo(ctx, strings.TrimSpace(*videoID))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no video with id %q", strings.TrimSpace(*videoID))
	}
	if err != nil {
		return err
	}

	reset, err := st.RetryVideo(ctx, video.ID)
	if err != nil {
		return err
	}
	if !reset {
		return fmt.Errorf("video %s is %s; only failed videos can be retried", video.ID, video.Status)
	}
	video, err = st.GetVideo(ctx, video.ID)
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(video)
	}
	fmt.Printf("video requeued: %s (%s)\n", video.ID, video.ExternalID)
	fmt.Println("next: yt-ingest resubmit --url-id <id> to queue a job that covers it")
	return nil
}
