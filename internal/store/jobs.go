package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"yt-ingest/internal/model"
)

const jobColumns = `id, submitted_url_id, status, progress_percent, videos_found, videos_processed, error_message, started_at, completed_at, created_at, updated_at`

// CreateJob enqueues a pending job for one submitted URL.
func (s *Store) CreateJob(ctx context.Context, submittedURLID string) (model.ScrapingJob, error) {
	id := uuid.NewString()
	now := nowStamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scraping_jobs (id, submitted_url_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, submittedURLID, model.JobPending, now, now)
	if err != nil {
		return model.ScrapingJob{}, fmt.Errorf("store: insert job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (model.ScrapingJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM scraping_jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ActiveJobForURL returns the newest pending or processing job for the URL,
// or ErrNotFound when none is in flight. Duplicate submissions reuse this
// instead of enqueueing a second job.
func (s *Store) ActiveJobForURL(ctx context.Context, submittedURLID string) (model.ScrapingJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM scraping_jobs
		WHERE submitted_url_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		submittedURLID, model.JobPending, model.JobProcessing)
	return scanJob(row)
}

// errLostClaim signals that the selected candidate was claimed by another
// worker between select and update. Internal to the claim loop.
var errLostClaim = errors.New("store: lost claim race")

// ClaimNextJob flips the oldest pending job to processing and returns it.
// The update is guarded on status, so concurrent claimers each get a
// distinct job; false means the queue is empty.
func (s *Store) ClaimNextJob(ctx context.Context) (model.ScrapingJob, bool, error) {
	for {
		job, err := s.claimOldestPending(ctx)
		switch {
		case errors.Is(err, errLostClaim):
			continue
		case errors.Is(err, ErrNotFound):
			return model.ScrapingJob{}, false, nil
		case err != nil:
			return model.ScrapingJob{}, false, err
		}
		return job, true, nil
	}
}

func (s *Store) claimOldestPending(ctx context.Context) (model.ScrapingJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ScrapingJob{}, fmt.Errorf("store: begin claim: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM scraping_jobs WHERE status = ?
		ORDER BY created_at ASC, id ASC LIMIT 1`,
		model.JobPending).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScrapingJob{}, ErrNotFound
	}
	if err != nil {
		return model.ScrapingJob{}, fmt.Errorf("store: select pending job: %w", err)
	}

	now := nowStamp()
	res, err := tx.ExecContext(ctx, `
		UPDATE scraping_jobs
		SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		model.JobProcessing, now, now, id, model.JobPending)
	if err != nil {
		return model.ScrapingJob{}, fmt.Errorf("store: claim job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ScrapingJob{}, errLostClaim
	}

	job, err := scanJob(tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM scraping_jobs WHERE id = ?`, id))
	if err != nil {
		return model.ScrapingJob{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.ScrapingJob{}, fmt.Errorf("store: commit claim: %w", err)
	}
	return job, nil
}

// ClaimJob is the single-job claim: pending -> processing for a known id.
// Exactly one of any number of concurrent callers sees true.
func (s *Store) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	now := nowStamp()
	res, err := s.db.ExecContext(ctx, `
		UPDATE scraping_jobs
		SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		model.JobProcessing, now, now, jobID, model.JobPending)
	if err != nil {
		return false, fmt.Errorf("store: claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: claim job: %w", err)
	}
	return n == 1, nil
}

// TransitionJob moves a job to a new status after validating the edge
// against the lifecycle. The write is guarded on the observed status;
// a racing writer surfaces as ErrConflict. errMsg lands in error_message
// (pass "" to clear); terminal transitions stamp completed_at.
func (s *Store) TransitionJob(ctx context.Context, jobID, to, errMsg string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !model.CanTransitionJob(job.Status, to) {
		return &model.InvalidTransitionError{Entity: "job", ID: jobID, From: job.Status, To: to}
	}

	now := nowStamp()
	startedAt := job.StartedAt
	if to == model.JobProcessing && startedAt == "" {
		startedAt = now
	}
	completedAt := job.CompletedAt
	if model.JobStatusTerminal(to) {
		completedAt = now
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE scraping_jobs
		SET status = ?, error_message = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, errMsg, startedAt, completedAt, now, jobID, job.Status)
	if err != nil {
		return fmt.Errorf("store: transition job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: transition job %s to %s: %w", jobID, to, ErrConflict)
	}
	return nil
}

// UpdateJobProgress persists the found/processed counters and the derived
// percentage. Called after every video so a crash never loses more than one
// video of progress.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, found, processed int) error {
	percent := 0
	if found > 0 {
		percent = processed * 100 / found
		if percent > 100 {
			percent = 100
		}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE scraping_jobs
		SET videos_found = ?, videos_processed = ?, progress_percent = ?, updated_at = ?
		WHERE id = ?`,
		found, processed, percent, nowStamp(), jobID)
	if err != nil {
		return fmt.Errorf("store: update job progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// JobFilter narrows ListJobs. Zero values mean "all" / default limit.
type JobFilter struct {
	Status string
	Limit  int
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]model.ScrapingJob, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if filter.Status != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM scraping_jobs
			WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
			filter.Status, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM scraping_jobs
			ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// JobsForURL returns every job for one submitted URL, newest first.
func (s *Store) JobsForURL(ctx context.Context, submittedURLID string) ([]model.ScrapingJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM scraping_jobs
		WHERE submitted_url_id = ? ORDER BY created_at DESC, id DESC`,
		submittedURLID)
	if err != nil {
		return nil, fmt.Errorf("store: jobs for url: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// StuckJobs returns processing jobs not touched for olderThan. Progress
// writes bump updated_at, so a healthy long job does not show up here.
func (s *Store) StuckJobs(ctx context.Context, olderThan time.Duration) ([]model.ScrapingJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM scraping_jobs
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC`,
		model.JobProcessing, stampBefore(olderThan))
	if err != nil {
		return nil, fmt.Errorf("store: stuck jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ReapStuckJobs requeues processing jobs not touched for olderThan back to
// pending, and resets equally stale fetching videos. Covers workers that
// died mid-job; the requeued job is picked up by any live worker.
func (s *Store) ReapStuckJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := stampBefore(olderThan)
	now := nowStamp()

	res, err := s.db.ExecContext(ctx, `
		UPDATE scraping_jobs
		SET status = ?, error_message = '', updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		model.JobPending, now, model.JobProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: reap jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: reap jobs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE videos
		SET status = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		model.VideoPending, now, model.VideoFetching, cutoff)
	if err != nil {
		return int(n), fmt.Errorf("store: reap videos: %w", err)
	}
	return int(n), nil
}

// DeleteFinishedJobsBefore removes terminal jobs last touched before cutoff.
// URLs, videos and links stay; only the job history shrinks.
func (s *Store) DeleteFinishedJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM scraping_jobs
		WHERE status IN (?, ?, ?) AND updated_at < ?`,
		model.JobCompleted, model.JobFailed, model.JobCancelled,
		cutoff.UTC().Format(stampLayout))
	if err != nil {
		return 0, fmt.Errorf("store: delete finished jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete finished jobs: %w", err)
	}
	return int(n), nil
}

func scanJob(row rowScanner) (model.ScrapingJob, error) {
	var j model.ScrapingJob
	err := row.Scan(&j.ID, &j.SubmittedURLID, &j.Status, &j.ProgressPercent,
		&j.VideosFound, &j.VideosProcessed, &j.ErrorMessage,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScrapingJob{}, ErrNotFound
	}
	if err != nil {
		return model.ScrapingJob{}, fmt.Errorf("store: scan job: %w", err)
	}
	return j, nil
}

func collectJobs(rows *sql.Rows) ([]model.ScrapingJob, error) {
	var out []model.ScrapingJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate jobs: %w", err)
	}
	return out, nil
}
