package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"yt-ingest/internal/model"
)

const videoColumns = `id, external_id, source_url, title, description, duration_seconds, view_count, like_count, upload_date, uploader, uploader_id, thumbnail_url, tags, categories, resolution, fps, file_size_bytes, format_id, storage_key, storage_url, status, error_message, created_at, updated_at`

// VideoAttrs is the metadata payload merged by UpsertVideo. Zero values
// ("", 0, nil) leave the stored column untouched, so a flat playlist pass
// never erases what a full probe wrote earlier.
type VideoAttrs struct {
	SourceURL       string
	Title           string
	Description     string
	DurationSeconds int64
	ViewCount       int64
	LikeCount       int64
	UploadDate      string
	Uploader        string
	UploaderID      string
	ThumbnailURL    string
	Tags            []string
	Categories      []string
	Resolution      string
	FPS             float64
	FileSizeBytes   int64
	FormatID        string
}

// UpsertVideo inserts a pending video row for externalID, or merges attrs
// into the existing one. Status, storage fields and error_message are never
// touched here. Returns the row as stored.
func (s *Store) UpsertVideo(ctx context.Context, externalID string, attrs VideoAttrs) (model.Video, error) {
	now := nowStamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO videos (
			id, external_id, source_url, title, description, duration_seconds,
			view_count, like_count, upload_date, uploader, uploader_id,
			thumbnail_url, tags, categories, resolution, fps, file_size_bytes,
			format_id, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			source_url       = CASE WHEN excluded.source_url <> '' THEN excluded.source_url ELSE videos.source_url END,
			title            = CASE WHEN excluded.title <> '' THEN excluded.title ELSE videos.title END,
			description      = CASE WHEN excluded.description <> '' THEN excluded.description ELSE videos.description END,
			duration_seconds = CASE WHEN excluded.duration_seconds > 0 THEN excluded.duration_seconds ELSE videos.duration_seconds END,
			view_count       = CASE WHEN excluded.view_count > 0 THEN excluded.view_count ELSE videos.view_count END,
			like_count       = CASE WHEN excluded.like_count > 0 THEN excluded.like_count ELSE videos.like_count END,
			upload_date      = CASE WHEN excluded.upload_date <> '' THEN excluded.upload_date ELSE videos.upload_date END,
			uploader         = CASE WHEN excluded.uploader <> '' THEN excluded.uploader ELSE videos.uploader END,
			uploader_id      = CASE WHEN excluded.uploader_id <> '' THEN excluded.uploader_id ELSE videos.uploader_id END,
			thumbnail_url    = CASE WHEN excluded.thumbnail_url <> '' THEN excluded.thumbnail_url ELSE videos.thumbnail_url END,
			tags             = CASE WHEN excluded.tags <> '' THEN excluded.tags ELSE videos.tags END,
			categories       = CASE WHEN excluded.categories <> '' THEN excluded.categories ELSE videos.categories END,
			resolution       = CASE WHEN excluded.resolution <> '' THEN excluded.resolution ELSE videos.resolution END,
			fps              = CASE WHEN excluded.fps > 0 THEN excluded.fps ELSE videos.fps END,
			file_size_bytes  = CASE WHEN excluded.file_size_bytes > 0 THEN excluded.file_size_bytes ELSE videos.file_size_bytes END,
			format_id        = CASE WHEN excluded.format_id <> '' THEN excluded.format_id ELSE videos.format_id END,
			updated_at       = excluded.updated_at`,
		uuid.NewString(), externalID, attrs.SourceURL, attrs.Title, attrs.Description,
		attrs.DurationSeconds, attrs.ViewCount, attrs.LikeCount, attrs.UploadDate,
		attrs.Uploader, attrs.UploaderID, attrs.ThumbnailURL,
		encodeList(attrs.Tags), encodeList(attrs.Categories),
		attrs.Resolution, attrs.FPS, attrs.FileSizeBytes, attrs.FormatID,
		model.VideoPending, now, now)
	if err != nil {
		return model.Video{}, fmt.Errorf("store: upsert video: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE external_id = ?`, externalID)
	return scanVideo(row)
}

// GetVideo fetches one video by id.
func (s *Store) GetVideo(ctx context.Context, id string) (model.Video, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	return scanVideo(row)
}

// ClaimVideo is the per-video fetch claim: pending -> fetching. False means
// another worker owns it (or it already finished); the caller moves on.
func (s *Store) ClaimVideo(ctx context.Context, videoID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		model.VideoFetching, nowStamp(), videoID, model.VideoPending)
	if err != nil {
		return false, fmt.Errorf("store: claim video: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: claim video: %w", err)
	}
	return n == 1, nil
}

// VideoOutcome carries the fields written alongside a status change:
// storage coordinates on done, the error text on failed.
type VideoOutcome struct {
	StorageKey    string
	StorageURL    string
	FileSizeBytes int64
	ErrorMessage  string
}

// SetVideoStatus moves a video to a new status after validating the edge.
// Guarded on the observed status; a racing writer surfaces as ErrConflict.
func (s *Store) SetVideoStatus(ctx context.Context, videoID, to string, outcome VideoOutcome) error {
	v, err := s.GetVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if !model.CanTransitionVideo(v.Status, to) {
		return &model.InvalidTransitionError{Entity: "video", ID: videoID, From: v.Status, To: to}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE videos
		SET status = ?,
		    storage_key = CASE WHEN ? <> '' THEN ? ELSE storage_key END,
		    storage_url = CASE WHEN ? <> '' THEN ? ELSE storage_url END,
		    file_size_bytes = CASE WHEN ? > 0 THEN ? ELSE file_size_bytes END,
		    error_message = ?,
		    updated_at = ?
		WHERE id = ? AND status = ?`,
		to,
		outcome.StorageKey, outcome.StorageKey,
		outcome.StorageURL, outcome.StorageURL,
		outcome.FileSizeBytes, outcome.FileSizeBytes,
		outcome.ErrorMessage,
		nowStamp(), videoID, v.Status)
	if err != nil {
		return fmt.Errorf("store: set video status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: set video %s to %s: %w", videoID, to, ErrConflict)
	}
	return nil
}

// RetryVideo is the operator requeue: failed -> pending with the error
// cleared. False means the video was not in failed.
func (s *Store) RetryVideo(ctx context.Context, videoID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, error_message = '', updated_at = ?
		WHERE id = ? AND status = ?`,
		model.VideoPending, nowStamp(), videoID, model.VideoFailed)
	if err != nil {
		return false, fmt.Errorf("store: retry video: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: retry video: %w", err)
	}
	return n == 1, nil
}

// LinkVideoToURL records membership of a video in a submitted URL's result
// set. Duplicate links are ignored, so re-scrapes are no-ops here.
func (s *Store) LinkVideoToURL(ctx context.Context, submittedURLID, videoID string, position int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO url_videos (submitted_url_id, video_id, position)
		VALUES (?, ?, ?)`,
		submittedURLID, videoID, position)
	if err != nil {
		return fmt.Errorf("store: link video: %w", err)
	}
	return nil
}

// VideosForURL returns the videos linked to one submitted URL in manifest
// order.
func (s *Store) VideosForURL(ctx context.Context, submittedURLID string) ([]model.Video, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("v", videoColumns)+`
		FROM videos v
		JOIN url_videos uv ON uv.video_id = v.id
		WHERE uv.submitted_url_id = ?
		ORDER BY uv.position ASC, v.created_at ASC`,
		submittedURLID)
	if err != nil {
		return nil, fmt.Errorf("store: videos for url: %w", err)
	}
	defer rows.Close()

	var out []model.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate videos: %w", err)
	}
	return out, nil
}

func scanVideo(row rowScanner) (model.Video, error) {
	var (
		v          model.Video
		tags, cats string
	)
	err := row.Scan(&v.ID, &v.ExternalID, &v.SourceURL, &v.Title, &v.Description,
		&v.DurationSeconds, &v.ViewCount, &v.LikeCount, &v.UploadDate,
		&v.Uploader, &v.UploaderID, &v.ThumbnailURL, &tags, &cats,
		&v.Resolution, &v.FPS, &v.FileSizeBytes, &v.FormatID,
		&v.StorageKey, &v.StorageURL, &v.Status, &v.ErrorMessage,
		&v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Video{}, ErrNotFound
	}
	if err != nil {
		return model.Video{}, fmt.Errorf("store: scan video: %w", err)
	}
	v.Tags = decodeList(tags)
	v.Categories = decodeList(cats)
	return v, nil
}

// encodeList serializes a string list to its JSON column form; empty lists
// store as the empty string.
func encodeList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	b, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeList(raw string) []string {
	if raw == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	return items
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
