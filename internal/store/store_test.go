package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"yt-ingest/internal/classify"
	"yt-ingest/internal/model"
)

func seedURL(t *testing.T, s *Store, canonical string) model.SubmittedURL {
	t.Helper()
	u, _, err := s.FindOrCreateSubmittedURL(context.Background(), canonical, classify.Classification{
		Kind:         model.KindPlaylist,
		CanonicalID:  "PLtest",
		CanonicalURL: canonical,
	})
	if err != nil {
		t.Fatalf("seed url: %v", err)
	}
	return u
}

func seedJob(t *testing.T, s *Store, urlID string) model.ScrapingJob {
	t.Helper()
	job, err := s.CreateJob(context.Background(), urlID)
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

// backdate rewrites a row's timestamps so age-based queries see it as old.
func backdate(t *testing.T, s *Store, table, id string, age time.Duration) {
	t.Helper()
	stamp := stampBefore(age)
	if _, err := s.db.Exec(
		`UPDATE `+table+` SET created_at = ?, updated_at = ? WHERE id = ?`,
		stamp, stamp, id); err != nil {
		t.Fatalf("backdate %s: %v", table, err)
	}
}

func TestFindOrCreateSubmittedURL_DedupesOnCanonicalURL(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	cls := classify.Classification{
		Kind:         model.KindVideo,
		CanonicalID:  "dQw4w9WgXcQ",
		CanonicalURL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	}

	first, created, err := s.FindOrCreateSubmittedURL(ctx, "youtube.com/watch?v=dQw4w9WgXcQ&t=42", cls)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if !created {
		t.Fatalf("expected first submit to create the row")
	}

	second, created, err := s.FindOrCreateSubmittedURL(ctx, "https://m.youtube.com/watch?v=dQw4w9WgXcQ", cls)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate submit to reuse the row")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate submit returned a different row: %s vs %s", second.ID, first.ID)
	}
	if second.RawURL != first.RawURL {
		t.Fatalf("duplicate submit rewrote raw_url to %q", second.RawURL)
	}
}

func TestClaimNextJob_OldestFirstExactlyOnce(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	u := seedURL(t, s, "https://www.youtube.com/playlist?list=PLtest")

	oldest := seedJob(t, s, u.ID)
	middle := seedJob(t, s, u.ID)
	newest := seedJob(t, s, u.ID)
	backdate(t, s, "scraping_jobs", oldest.ID, 3*time.Hour)
	backdate(t, s, "scraping_jobs", middle.ID, 2*time.Hour)
	backdate(t, s, "scraping_jobs", newest.ID, time.Hour)

	want := []string{oldest.ID, middle.ID, newest.ID}
	for i, id := range want {
		job, ok, err := s.ClaimNextJob(ctx)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("claim %d: queue unexpectedly empty", i)
		}
		if job.ID != id {
			t.Fatalf("claim %d: got job %s, want %s", i, job.ID, id)
		}
		if job.Status != model.JobProcessing {
			t.Fatalf("claimed job status = %q, want processing", job.Status)
		}
		if job.StartedAt == "" {
			t.Fatalf("claimed job has empty started_at")
		}
	}

	if _, ok, err := s.ClaimNextJob(ctx); err != nil {
		t.Fatalf("claim on empty queue: %v", err)
	} else if ok {
		t.Fatalf("expected empty queue after all jobs claimed")
	}
}

func TestClaimJob_SingleWinner(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	u := seedURL(t, s, "https://www.youtube.com/watch?v=abcdefghijk")
	job := seedJob(t, s, u.ID)

	const claimers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimJob(ctx, job.ID)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("got %d winning claims, want exactly 1", won)
	}
}

func TestTransitionJob_StampsAndValidates(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	u := seedURL(t, s, "https://www.youtube.com/@creator")
	job := seedJob(t, s, u.ID)

	if err := s.TransitionJob(ctx, job.ID, model.JobProcessing, ""); err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}
	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.StartedAt == "" {
		t.Fatalf("processing job has empty started_at")
	}

	if err := s.TransitionJob(ctx, job.ID, model.JobFailed, "yt-dlp exited 1"); err != nil {
		t.Fatalf("processing -> failed: %v", err)
	}
	got, err = s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.CompletedAt == "" {
		t.Fatalf("terminal job has empty completed_at")
	}
	if got.ErrorMessage != "yt-dlp exited 1" {
		t.Fatalf("error_message = %q", got.ErrorMessage)
	}

	err = s.TransitionJob(ctx, job.ID, model.JobPending, "")
	var invalid *model.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("failed -> pending: got %v, want InvalidTransitionError", err)
	}
	if invalid.From != model.JobFailed || invalid.To != model.JobPending {
		t.Fatalf("unexpected transition error detail: %+v", invalid)
	}
}

func TestUpdateJobProgress_DerivesPercent(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	u := seedURL(t, s, "https://www.youtube.com/playlist?list=PLprogress")
	job := seedJob(t, s, u.ID)

	if err := s.UpdateJobProgress(ctx, job.ID, 8, 3); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.VideosFound != 8 || got.VideosProcessed != 3 {
		t.Fatalf("counters = %d/%d, want 3/8 processed/found", got.VideosProcessed, got.VideosFound)
	}
	if got.ProgressPercent != 37 {
		t.Fatalf("progress_percent = %d, want 37", got.ProgressPercent)
	}

	if err := s.UpdateJobProgress(ctx, "no-such-job", 1, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("progress on missing job: got %v, want ErrNotFound", err)
	}
}

func TestActiveJobForURL_NewestActive(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	u := seedURL(t, s, "https://www.youtube.com/playlist?list=PLactive")

	if _, err := s.ActiveJobForURL(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no jobs yet: got %v, want ErrNotFound", err)
	}

	done := seedJob(t, s, u.ID)
	backdate(t, s, "scraping_jobs", done.ID, 2*time.Hour)
	if err := s.TransitionJob(ctx, done.ID, model.JobCancelled, ""); err != nil {
		t.Fatalf("cancel old job: %v", err)
	}

	if _, err := s.ActiveJobForURL(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("only terminal jobs: got %v, want ErrNotFound", err)
	}

	active := seedJob(t, s, u.ID)
	got, err := s.ActiveJobForURL(ctx, u.ID)
	if err != nil {
		t.Fatalf("active job: %v", err)
	}
	if got.ID != active.ID {
		t.Fatalf("active job = %s, want %s", got.ID, active.ID)
	}
}

func TestUpsertVideo_MergesWithoutErasing(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	flat, err := s.UpsertVideo(ctx, "vid0000000a", VideoAttrs{
		Title:    "First title",
		Uploader: "creator",
	})
	if err != nil {
		t.Fatalf("flat upsert: %v", err)
	}
	if flat.Status != model.VideoPending {
		t.Fatalf("new video status = %q, want pending", flat.Status)
	}

	probed, err := s.UpsertVideo(ctx, "vid0000000a", VideoAttrs{
		Description:     "Full description",
		DurationSeconds: 630,
		ViewCount:       12000,
		Tags:            []string{"music", "live"},
		Resolution:      "1920x1080",
		FPS:             29.97,
		FormatID:        "137+140",
	})
	if err != nil {
		t.Fatalf("probe upsert: %v", err)
	}
	if probed.ID != flat.ID {
		t.Fatalf("upsert created a second row: %s vs %s", probed.ID, flat.ID)
	}
	if probed.Title != "First title" {
		t.Fatalf("probe upsert erased title: %q", probed.Title)
	}
	if probed.DurationSeconds != 630 || probed.Resolution != "1920x1080" {
		t.Fatalf("probe fields not merged: %+v", probed)
	}

	again, err := s.UpsertVideo(ctx, "vid0000000a", VideoAttrs{})
	if err != nil {
		t.Fatalf("empty upsert: %v", err)
	}
	if again.Description != "Full description" || len(again.Tags) != 2 {
		t.Fatalf("empty upsert erased merged fields: %+v", again)
	}
	if again.CreatedAt != flat.CreatedAt {
		t.Fatalf("upsert rewrote created_at")
	}
}

func TestClaimVideo_CASFetchAndOperatorRetry(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	v, err := s.UpsertVideo(ctx, "vid0000000b", VideoAttrs{Title: "clip"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ok, err := s.ClaimVideo(ctx, v.ID)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = s.ClaimVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatalf("expected second claim to lose")
	}

	if err := s.SetVideoStatus(ctx, v.ID, model.VideoFailed, VideoOutcome{
		ErrorMessage: "HTTP Error 403: Forbidden",
	}); err != nil {
		t.Fatalf("fetching -> failed: %v", err)
	}

	ok, err = s.RetryVideo(ctx, v.ID)
	if err != nil || !ok {
		t.Fatalf("retry failed video: ok=%v err=%v", ok, err)
	}
	got, err := s.GetVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("get video: %v", err)
	}
	if got.Status != model.VideoPending || got.ErrorMessage != "" {
		t.Fatalf("retried video = %q/%q, want pending with cleared error", got.Status, got.ErrorMessage)
	}

	// Retry only applies to failed videos.
	ok, err = s.RetryVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("retry pending video: %v", err)
	}
	if ok {
		t.Fatalf("expected retry of non-failed video to be a no-op")
	}
}

func TestSetVideoStatus_RecordsOutcomeAndRefusesTerminalExit(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()

	v, err := s.UpsertVideo(ctx, "vid0000000c", VideoAttrs{Title: "kept"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if ok, err := s.ClaimVideo(ctx, v.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	if err := s.SetVideoStatus(ctx, v.ID, model.VideoDone, VideoOutcome{
		StorageKey:    "videos/2026/08/vid0000000c_kept.mp4",
		StorageURL:    "https://files.example.com/file/bucket/videos/2026/08/vid0000000c_kept.mp4",
		FileSizeBytes: 1 << 20,
	}); err != nil {
		t.Fatalf("fetching -> done: %v", err)
	}

	got, err := s.GetVideo(ctx, v.ID)
	if err != nil {
		t.Fatalf("get video: %v", err)
	}
	if got.StorageKey == "" || got.StorageURL == "" || got.FileSizeBytes != 1<<20 {
		t.Fatalf("done outcome not recorded: %+v", got)
	}

	err = s.SetVideoStatus(ctx, v.ID, model.VideoFetching, VideoOutcome{})
	var invalid *model.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("done -> fetching: got %v, want InvalidTransitionError", err)
	}
}

func TestLinkVideoToURL_Idempotent(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	u := seedURL(t, s, "https://www.youtube.com/playlist?list=PLlink")

	first, err := s.UpsertVideo(ctx, "vid0000000d", VideoAttrs{})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := s.UpsertVideo(ctx, "vid0000000e", VideoAttrs{})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.LinkVideoToURL(ctx, u.ID, first.ID, 2); err != nil {
			t.Fatalf("link attempt %d: %v", i, err)
		}
	}
	if err := s.LinkVideoToURL(ctx, u.ID, second.ID, 1); err != nil {
		t.Fatalf("link second: %v", err)
	}

	videos, err := s.VideosForURL(ctx, u.ID)
	if err != nil {
		t.Fatalf("videos for url: %v", err)
	}
	if len(videos) != 2 {
		t.Fatalf("got %d linked videos, want 2", len(videos))
	}
	if videos[0].ID != second.ID || videos[1].ID != first.ID {
		t.Fatalf("videos not in manifest order: %s, %s", videos[0].ID, videos[1].ID)
	}
}

func TestReapStuckJobs_RequeuesOnlyStale(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	u := seedURL(t, s, "https://www.youtube.com/playlist?list=PLreap")

	stale := seedJob(t, s, u.ID)
	fresh := seedJob(t, s, u.ID)
	for _, id := range []string{stale.ID, fresh.ID} {
		if ok, err := s.ClaimJob(ctx, id); err != nil || !ok {
			t.Fatalf("claim %s: ok=%v err=%v", id, ok, err)
		}
	}
	backdate(t, s, "scraping_jobs", stale.ID, time.Hour)

	staleVideo, err := s.UpsertVideo(ctx, "vid0000000f", VideoAttrs{})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if ok, err := s.ClaimVideo(ctx, staleVideo.ID); err != nil || !ok {
		t.Fatalf("claim video: ok=%v err=%v", ok, err)
	}
	backdate(t, s, "videos", staleVideo.ID, time.Hour)

	stuck, err := s.StuckJobs(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("stuck jobs: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != stale.ID {
		t.Fatalf("stuck jobs = %+v, want just the stale one", stuck)
	}

	n, err := s.ReapStuckJobs(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped %d jobs, want 1", n)
	}

	got, err := s.GetJob(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get stale job: %v", err)
	}
	if got.Status != model.JobPending {
		t.Fatalf("stale job status = %q, want pending", got.Status)
	}
	got, err = s.GetJob(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("get fresh job: %v", err)
	}
	if got.Status != model.JobProcessing {
		t.Fatalf("fresh job status = %q, want processing untouched", got.Status)
	}

	gotVideo, err := s.GetVideo(ctx, staleVideo.ID)
	if err != nil {
		t.Fatalf("get video: %v", err)
	}
	if gotVideo.Status != model.VideoPending {
		t.Fatalf("stale video status = %q, want pending", gotVideo.Status)
	}
}

func TestDeleteFinishedJobsBefore_KeepsLiveAndRecent(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	u := seedURL(t, s, "https://www.youtube.com/playlist?list=PLclean")

	oldDone := seedJob(t, s, u.ID)
	if ok, err := s.ClaimJob(ctx, oldDone.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if err := s.TransitionJob(ctx, oldDone.ID, model.JobCompleted, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	backdate(t, s, "scraping_jobs", oldDone.ID, 10*24*time.Hour)

	recentDone := seedJob(t, s, u.ID)
	if ok, err := s.ClaimJob(ctx, recentDone.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if err := s.TransitionJob(ctx, recentDone.ID, model.JobFailed, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	oldLive := seedJob(t, s, u.ID)
	if ok, err := s.ClaimJob(ctx, oldLive.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	backdate(t, s, "scraping_jobs", oldLive.ID, 10*24*time.Hour)

	n, err := s.DeleteFinishedJobsBefore(ctx, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("delete finished: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d jobs, want 1", n)
	}
	if _, err := s.GetJob(ctx, oldDone.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old terminal job still present: %v", err)
	}
	if _, err := s.GetJob(ctx, recentDone.ID); err != nil {
		t.Fatalf("recent terminal job deleted: %v", err)
	}
	if _, err := s.GetJob(ctx, oldLive.ID); err != nil {
		t.Fatalf("old processing job deleted: %v", err)
	}
}

func TestSummary_CountsAndBytes(t *testing.T) {
	s := OpenMemory(t)
	ctx := context.Background()
	u := seedURL(t, s, "https://www.youtube.com/playlist?list=PLsum")

	seedJob(t, s, u.ID)
	processing := seedJob(t, s, u.ID)
	if ok, err := s.ClaimJob(ctx, processing.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	for i, ext := range []string{"vidsum0000a", "vidsum0000b"} {
		v, err := s.UpsertVideo(ctx, ext, VideoAttrs{})
		if err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
		if ok, err := s.ClaimVideo(ctx, v.ID); err != nil || !ok {
			t.Fatalf("claim video %d: ok=%v err=%v", i, ok, err)
		}
		if err := s.SetVideoStatus(ctx, v.ID, model.VideoDone, VideoOutcome{
			StorageKey:    "videos/2026/08/" + ext + ".mp4",
			FileSizeBytes: 100,
		}); err != nil {
			t.Fatalf("done video %d: %v", i, err)
		}
	}
	if _, err := s.UpsertVideo(ctx, "vidsum0000c", VideoAttrs{}); err != nil {
		t.Fatalf("upsert pending video: %v", err)
	}

	sum, err := s.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.URLs != 1 {
		t.Fatalf("summary urls = %d, want 1", sum.URLs)
	}
	if sum.Jobs[model.JobPending] != 1 || sum.Jobs[model.JobProcessing] != 1 {
		t.Fatalf("summary jobs = %+v", sum.Jobs)
	}
	if sum.Videos[model.VideoDone] != 2 || sum.Videos[model.VideoPending] != 1 {
		t.Fatalf("summary videos = %+v", sum.Videos)
	}
	if sum.StoredBytes != 200 {
		t.Fatalf("summary stored bytes = %d, want 200", sum.StoredBytes)
	}
}
