// Package ingest drives claimed scraping jobs end to end: resolve the
// submitted URL into video entries, download each one into a spool
// workspace, upload the media to object storage, and persist every status
// change as it happens. Workers coordinate only through store CAS; the
// orchestrator keeps no job state in memory.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"yt-ingest/internal/classify"
	"yt-ingest/internal/extract"
	"yt-ingest/internal/model"
	"yt-ingest/internal/spool"
	"yt-ingest/internal/storage"
	"yt-ingest/internal/store"
)

const maxErrorLen = 1200

// Extractor is the slice of the yt-dlp client the orchestrator needs.
// extract.Client implements it; tests substitute fakes.
type Extractor interface {
	Resolve(ctx context.Context, sourceURL string, flat bool, opts extract.Options) (extract.Manifest, error)
	Probe(ctx context.Context, externalID string, opts extract.Options) (extract.VideoMeta, error)
	Download(ctx context.Context, externalID, destDir string, opts extract.Options) error
}

// Uploader is the slice of the object storage client the orchestrator needs.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) (storage.UploadResult, error)
}

// Config wires an Orchestrator.
type Config struct {
	Store     *store.Store
	Extractor Extractor
	Uploader  Uploader
	Spool     *spool.Spool

	// Extract carries cookies/quality/rate-limit passthrough. The pool
	// overrides ProxyURL per worker.
	Extract extract.Options

	Retry RetryPolicy

	// RefreshDone re-probes metadata for videos that are already done.
	// Media is never fetched again either way.
	RefreshDone bool

	// Logger for progress and failures (default slog.Default()).
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Retry = c.Retry.normalized()
}

// Orchestrator processes claimed jobs. Safe for concurrent use.
type Orchestrator struct {
	cfg Config
	log *slog.Logger
}

// New creates an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{cfg: cfg, log: cfg.Logger}
}

type entryOutcome int

const (
	outcomeDone entryOutcome = iota
	outcomeFailed
	outcomeYielded
)

// ProcessJob drives one job that is already in processing. Every transition
// is persisted before the next step, so a crash at any point leaves rows the
// reaper can requeue. The returned error covers infrastructure failures
// only; a job that ends failed returns nil.
func (o *Orchestrator) ProcessJob(ctx context.Context, job model.ScrapingJob) error {
	st := o.cfg.Store
	log := o.log.With("job_id", job.ID)

	sub, err := st.GetSubmittedURL(ctx, job.SubmittedURLID)
	if err != nil {
		return fmt.Errorf("load submitted URL: %w", err)
	}
	log = log.With("url", sub.NormalizedURL)

	cls, err := classify.Classify(sub.NormalizedURL)
	if err != nil {
		return o.finishJob(ctx, job.ID, model.JobFailed, "classify: "+err.Error())
	}
	if cls.Kind != sub.Kind {
		return o.finishJob(ctx, job.ID, model.JobFailed,
			fmt.Sprintf("stored kind %q no longer matches classification %q", sub.Kind, cls.Kind))
	}

	manifest, err := o.resolveManifest(ctx, sub)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("resolve failed", "error", err)
		return o.finishJob(ctx, job.ID, model.JobFailed, "resolve: "+err.Error())
	}
	if manifest.Title != "" || manifest.Description != "" {
		if err := st.SetSubmittedURLInfo(ctx, sub.ID, manifest.Title, manifest.Description); err != nil {
			return fmt.Errorf("record source info: %w", err)
		}
	}

	entries := processableEntries(manifest.Entries)
	if skipped := len(manifest.Entries) - len(entries); skipped > 0 {
		log.Info("skipping private entries", "count", skipped)
	}
	if err := st.UpdateJobProgress(ctx, job.ID, len(entries), 0); err != nil {
		return fmt.Errorf("record videos found: %w", err)
	}
	if len(entries) == 0 {
		return o.finishJob(ctx, job.ID, model.JobFailed, "no videos found")
	}
	log.Info("job resolved", "videos", len(entries))

	var processed, done int
	for _, entry := range entries {
		current, err := st.GetJob(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("reload job: %w", err)
		}
		if current.Status == model.JobCancelled {
			log.Info("job cancelled, stopping", "processed", processed)
			return nil
		}

		outcome, err := o.processEntry(ctx, log, sub, entry)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, storage.ErrAuth) {
				log.Error("storage auth rejected, aborting job", "error", err)
				return o.finishJob(ctx, job.ID, model.JobFailed, "storage auth: "+err.Error())
			}
			return err
		}
		processed++
		if outcome == outcomeDone {
			done++
		}
		if err := st.UpdateJobProgress(ctx, job.ID, len(entries), processed); err != nil {
			return fmt.Errorf("record progress: %w", err)
		}
	}

	if done == 0 {
		return o.finishJob(ctx, job.ID, model.JobFailed,
			fmt.Sprintf("no videos stored (%d processed)", processed))
	}
	log.Info("job completed", "videos_done", done, "videos_failed", processed-done)
	return o.finishJob(ctx, job.ID, model.JobCompleted, "")
}

// processEntry takes one manifest entry to a terminal video status. The
// returned error is reserved for store failures and job-fatal conditions;
// per-video extraction failures come back as outcomeFailed.
func (o *Orchestrator) processEntry(ctx context.Context, log *slog.Logger, sub model.SubmittedURL, entry extract.Entry) (entryOutcome, error) {
	st := o.cfg.Store

	video, err := st.UpsertVideo(ctx, entry.ExternalID, attrsFromEntry(entry))
	if err != nil {
		return 0, fmt.Errorf("upsert video %s: %w", entry.ExternalID, err)
	}
	// Link before fetching so membership is visible even if this worker dies.
	if err := st.LinkVideoToURL(ctx, sub.ID, video.ID, entry.Position); err != nil {
		return 0, fmt.Errorf("link video %s: %w", entry.ExternalID, err)
	}

	if video.Status == model.VideoDone {
		if o.cfg.RefreshDone {
			if err := o.refreshMetadata(ctx, log, entry.ExternalID); err != nil {
				return 0, err
			}
		}
		return outcomeDone, nil
	}

	if video.Status == model.VideoFailed {
		// A new job reaching a previously failed video retries it.
		if _, err := st.RetryVideo(ctx, video.ID); err != nil {
			return 0, fmt.Errorf("reset failed video %s: %w", entry.ExternalID, err)
		}
	}

	claimed, err := st.ClaimVideo(ctx, video.ID)
	if err != nil {
		return 0, fmt.Errorf("claim video %s: %w", entry.ExternalID, err)
	}
	if !claimed {
		current, err := st.GetVideo(ctx, video.ID)
		if err != nil {
			return 0, fmt.Errorf("reload video %s: %w", entry.ExternalID, err)
		}
		if current.Status == model.VideoDone {
			return outcomeDone, nil
		}
		log.Info("video claimed elsewhere, yielding", "video", entry.ExternalID)
		return outcomeYielded, nil
	}

	if err := o.fetchVideo(ctx, log, entry.ExternalID, video.ID); err != nil {
		if ctx.Err() != nil {
			// Shutting down mid-fetch: release the claim so the video does
			// not sit in fetching until the reaper. Best effort with a fresh
			// context; ctx is already dead.
			_ = st.SetVideoStatus(context.Background(), video.ID, model.VideoPending, store.VideoOutcome{})
			return 0, ctx.Err()
		}
		if errors.Is(err, storage.ErrAuth) {
			_ = st.SetVideoStatus(ctx, video.ID, model.VideoFailed,
				store.VideoOutcome{ErrorMessage: truncate(err.Error(), maxErrorLen)})
			return 0, err
		}
		log.Warn("video failed", "video", entry.ExternalID, "error", err)
		if serr := st.SetVideoStatus(ctx, video.ID, model.VideoFailed,
			store.VideoOutcome{ErrorMessage: truncate(err.Error(), maxErrorLen)}); serr != nil {
			return 0, fmt.Errorf("mark video failed %s: %w", entry.ExternalID, serr)
		}
		return outcomeFailed, nil
	}
	return outcomeDone, nil
}

// fetchVideo probes, downloads, and uploads one claimed video, then marks it
// done with the storage coordinates.
func (o *Orchestrator) fetchVideo(ctx context.Context, log *slog.Logger, externalID, videoID string) error {
	st := o.cfg.Store

	var meta extract.VideoMeta
	err := o.cfg.Retry.Do(ctx, func() error {
		var perr error
		meta, perr = o.cfg.Extractor.Probe(ctx, externalID, o.cfg.Extract)
		return perr
	})
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	if _, err := st.UpsertVideo(ctx, externalID, attrsFromMeta(meta)); err != nil {
		return fmt.Errorf("record metadata: %w", err)
	}

	ws, err := o.cfg.Spool.Enter(externalID)
	if err != nil {
		return fmt.Errorf("spool: %w", err)
	}
	defer ws.Leave()

	err = o.cfg.Retry.Do(ctx, func() error {
		return o.cfg.Extractor.Download(ctx, externalID, ws.Dir(), o.cfg.Extract)
	})
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	path, size, err := ws.MediaFile()
	if err != nil {
		return err
	}

	key := storage.VideoKey(externalID, meta.Title, filepath.Ext(path), time.Now().UTC())
	var result storage.UploadResult
	err = o.cfg.Retry.Do(ctx, func() error {
		var uerr error
		result, uerr = o.cfg.Uploader.Upload(ctx, path, key)
		return uerr
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if err := st.SetVideoStatus(ctx, videoID, model.VideoDone, store.VideoOutcome{
		StorageKey:    result.StorageKey,
		StorageURL:    result.PublicURL,
		FileSizeBytes: result.SizeBytes,
	}); err != nil {
		return fmt.Errorf("mark video done: %w", err)
	}
	log.Info("video stored", "video", externalID, "key", result.StorageKey, "bytes", size)
	return nil
}

// refreshMetadata re-probes a done video and merges the result. Probe
// failures are logged and swallowed; the stored metadata stays as is.
func (o *Orchestrator) refreshMetadata(ctx context.Context, log *slog.Logger, externalID string) error {
	var meta extract.VideoMeta
	err := o.cfg.Retry.Do(ctx, func() error {
		var perr error
		meta, perr = o.cfg.Extractor.Probe(ctx, externalID, o.cfg.Extract)
		return perr
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("metadata refresh failed", "video", externalID, "error", err)
		return nil
	}
	if _, err := o.cfg.Store.UpsertVideo(ctx, externalID, attrsFromMeta(meta)); err != nil {
		return fmt.Errorf("refresh video %s: %w", externalID, err)
	}
	return nil
}

func (o *Orchestrator) resolveManifest(ctx context.Context, sub model.SubmittedURL) (extract.Manifest, error) {
	flat := sub.Kind != model.KindVideo
	var manifest extract.Manifest
	err := o.cfg.Retry.Do(ctx, func() error {
		var rerr error
		manifest, rerr = o.cfg.Extractor.Resolve(ctx, sub.NormalizedURL, flat, o.cfg.Extract)
		return rerr
	})
	return manifest, err
}

// finishJob writes a terminal job status. A job that turned cancelled (or
// otherwise moved) while we were finishing it is left alone.
func (o *Orchestrator) finishJob(ctx context.Context, jobID, status, msg string) error {
	err := o.cfg.Store.TransitionJob(ctx, jobID, status, truncate(msg, maxErrorLen))
	var invalid *model.InvalidTransitionError
	if errors.As(err, &invalid) || errors.Is(err, store.ErrConflict) {
		o.log.Info("job moved during finish, leaving as is", "job_id", jobID, "wanted", status)
		return nil
	}
	return err
}

func processableEntries(entries []extract.Entry) []extract.Entry {
	out := make([]extract.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Private {
			continue
		}
		out = append(out, e)
	}
	return out
}

func attrsFromEntry(e extract.Entry) store.VideoAttrs {
	return store.VideoAttrs{
		Title:           e.Title,
		Uploader:        e.Uploader,
		DurationSeconds: e.DurationSeconds,
	}
}

func attrsFromMeta(m extract.VideoMeta) store.VideoAttrs {
	return store.VideoAttrs{
		SourceURL:       m.SourceURL,
		Title:           m.Title,
		Description:     m.Description,
		DurationSeconds: m.DurationSeconds,
		ViewCount:       m.ViewCount,
		LikeCount:       m.LikeCount,
		UploadDate:      m.UploadDate,
		Uploader:        m.Uploader,
		UploaderID:      m.UploaderID,
		ThumbnailURL:    m.ThumbnailURL,
		Tags:            m.Tags,
		Categories:      m.Categories,
		Resolution:      m.Resolution,
		FPS:             m.FPS,
		FormatID:        m.FormatID,
		FileSizeBytes:   m.FileSizeApprox,
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
