package store

// Schema is executed on every Open. All statements are idempotent.
//
// Timestamps are RFC3339 UTC strings; empty string means "not yet".
// tags/categories are JSON arrays serialized to TEXT, empty string for none.
const Schema = `
CREATE TABLE IF NOT EXISTS youtube_urls (
	id             TEXT PRIMARY KEY,
	raw_url        TEXT NOT NULL,
	normalized_url TEXT NOT NULL UNIQUE,
	url_kind       TEXT NOT NULL CHECK (url_kind IN ('video','channel','playlist','user')),
	canonical_id   TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	submitted_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS videos (
	id              TEXT PRIMARY KEY,
	external_id     TEXT NOT NULL UNIQUE,
	source_url      TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	view_count      INTEGER NOT NULL DEFAULT 0,
	like_count      INTEGER NOT NULL DEFAULT 0,
	upload_date     TEXT NOT NULL DEFAULT '',
	uploader        TEXT NOT NULL DEFAULT '',
	uploader_id     TEXT NOT NULL DEFAULT '',
	thumbnail_url   TEXT NOT NULL DEFAULT '',
	tags            TEXT NOT NULL DEFAULT '',
	categories      TEXT NOT NULL DEFAULT '',
	resolution      TEXT NOT NULL DEFAULT '',
	fps             REAL NOT NULL DEFAULT 0,
	file_size_bytes INTEGER NOT NULL DEFAULT 0,
	format_id       TEXT NOT NULL DEFAULT '',
	storage_key     TEXT NOT NULL DEFAULT '',
	storage_url     TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','fetching','done','failed')),
	error_message   TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scraping_jobs (
	id               TEXT PRIMARY KEY,
	submitted_url_id TEXT NOT NULL REFERENCES youtube_urls(id),
	status           TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','processing','completed','failed','cancelled')),
	progress_percent INTEGER NOT NULL DEFAULT 0,
	videos_found     INTEGER NOT NULL DEFAULT 0,
	videos_processed INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT NOT NULL DEFAULT '',
	started_at       TEXT NOT NULL DEFAULT '',
	completed_at     TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS url_videos (
	submitted_url_id TEXT NOT NULL REFERENCES youtube_urls(id),
	video_id         TEXT NOT NULL REFERENCES videos(id),
	position         INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (submitted_url_id, video_id)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON scraping_jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_url ON scraping_jobs(submitted_url_id);
CREATE INDEX IF NOT EXISTS idx_videos_status ON videos(status);
CREATE INDEX IF NOT EXISTS idx_url_videos_video ON url_videos(video_id);
`
