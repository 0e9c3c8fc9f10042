package store

import (
	"context"
	"fmt"
)

// Summary is the dashboard rollup: row counts per status plus the total
// bytes of uploaded media.
type Summary struct {
	URLs        int            `json:"urls"`
	Jobs        map[string]int `json:"jobs"`
	Videos      map[string]int `json:"videos"`
	StoredBytes int64          `json:"stored_bytes"`
}

// Summary counts jobs and videos per status and totals stored bytes across
// done videos.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	out := Summary{
		Jobs:   map[string]int{},
		Videos: map[string]int{},
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM youtube_urls`).Scan(&out.URLs); err != nil {
		return Summary{}, fmt.Errorf("store: summary urls: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM scraping_jobs GROUP BY status`)
	if err != nil {
		return Summary{}, fmt.Errorf("store: summary jobs: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return Summary{}, fmt.Errorf("store: summary jobs: %w", err)
		}
		out.Jobs[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("store: summary jobs: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM videos GROUP BY status`)
	if err != nil {
		return Summary{}, fmt.Errorf("store: summary videos: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return Summary{}, fmt.Errorf("store: summary videos: %w", err)
		}
		out.Videos[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("store: summary videos: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(file_size_bytes), 0) FROM videos WHERE status = 'done'`).
		Scan(&out.StoredBytes); err != nil {
		return Summary{}, fmt.Errorf("store: summary bytes: %w", err)
	}

	return out, nil
}
