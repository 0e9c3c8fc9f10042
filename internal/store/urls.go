package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"yt-ingest/internal/classify"
	"yt-ingest/internal/model"
)

const submittedURLColumns = `id, raw_url, normalized_url, url_kind, canonical_id, title, description, submitted_at`

// FindOrCreateSubmittedURL records one submission, de-duplicated on the
// canonical URL. The insert races safely: on conflict nothing is written and
// the existing row is re-read. The returned flag is true when this call
// created the row.
func (s *Store) FindOrCreateSubmittedURL(ctx context.Context, rawURL string, cls classify.Classification) (model.SubmittedURL, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO youtube_urls (id, raw_url, normalized_url, url_kind, canonical_id, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(normalized_url) DO NOTHING`,
		uuid.NewString(), rawURL, cls.CanonicalURL, cls.Kind, cls.CanonicalID, nowStamp())
	if err != nil {
		return model.SubmittedURL{}, false, fmt.Errorf("store: insert url: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.SubmittedURL{}, false, fmt.Errorf("store: insert url: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+submittedURLColumns+` FROM youtube_urls WHERE normalized_url = ?`,
		cls.CanonicalURL)
	u, err := scanSubmittedURL(row)
	if err != nil {
		return model.SubmittedURL{}, false, err
	}
	return u, n == 1, nil
}

// GetSubmittedURL fetches one submission by id.
func (s *Store) GetSubmittedURL(ctx context.Context, id string) (model.SubmittedURL, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+submittedURLColumns+` FROM youtube_urls WHERE id = ?`, id)
	return scanSubmittedURL(row)
}

// SetSubmittedURLInfo stores the resolved title/description of a channel or
// playlist once extraction has seen it. Empty values leave the column alone.
func (s *Store) SetSubmittedURLInfo(ctx context.Context, id, title, description string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE youtube_urls
		SET title = CASE WHEN ? <> '' THEN ? ELSE title END,
		    description = CASE WHEN ? <> '' THEN ? ELSE description END
		WHERE id = ?`,
		title, title, description, description, id)
	if err != nil {
		return fmt.Errorf("store: update url info: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmittedURL(row rowScanner) (model.SubmittedURL, error) {
	var u model.SubmittedURL
	err := row.Scan(&u.ID, &u.RawURL, &u.NormalizedURL, &u.Kind, &u.CanonicalID,
		&u.Title, &u.Description, &u.SubmittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SubmittedURL{}, ErrNotFound
	}
	if err != nil {
		return model.SubmittedURL{}, fmt.Errorf("store: scan url: %w", err)
	}
	return u, nil
}
