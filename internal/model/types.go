package model

// SubmittedURL is one distinct user submission. Duplicate submissions of the
// same canonical URL reuse the existing row.
type SubmittedURL struct {
	ID            string `json:"id"`
	RawURL        string `json:"raw_url"`
	NormalizedURL string `json:"normalized_url"`
	Kind          string `json:"url_kind"`
	CanonicalID   string `json:"canonical_id"`
	Title         string `json:"title,omitempty"`
	Description   string `json:"description,omitempty"`
	SubmittedAt   string `json:"submitted_at"`
}

// Video is one platform video, keyed by ExternalID. The same video reached
// through two submitted URLs maps to a single row.
type Video struct {
	ID              string   `json:"id"`
	ExternalID      string   `json:"external_id"`
	SourceURL       string   `json:"source_url,omitempty"`
	Title           string   `json:"title,omitempty"`
	Description     string   `json:"description,omitempty"`
	DurationSeconds int64    `json:"duration_seconds,omitempty"`
	ViewCount       int64    `json:"view_count,omitempty"`
	LikeCount       int64    `json:"like_count,omitempty"`
	UploadDate      string   `json:"upload_date,omitempty"`
	Uploader        string   `json:"uploader,omitempty"`
	UploaderID      string   `json:"uploader_id,omitempty"`
	ThumbnailURL    string   `json:"thumbnail_url,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	Resolution      string   `json:"resolution,omitempty"`
	FPS             float64  `json:"fps,omitempty"`
	FileSizeBytes   int64    `json:"file_size_bytes,omitempty"`
	FormatID        string   `json:"format_id,omitempty"`
	StorageKey      string   `json:"storage_key,omitempty"`
	StorageURL      string   `json:"storage_url,omitempty"`
	Status          string   `json:"status"`
	ErrorMessage    string   `json:"error_message,omitempty"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

// ScrapingJob tracks processing of one SubmittedURL. Channel and playlist
// jobs fan out to many Video rows through URLVideoLink.
type ScrapingJob struct {
	ID              string `json:"id"`
	SubmittedURLID  string `json:"submitted_url_id"`
	Status          string `json:"status"`
	ProgressPercent int    `json:"progress_percent"`
	VideosFound     int    `json:"videos_found"`
	VideosProcessed int    `json:"videos_processed"`
	ErrorMessage    string `json:"error_message,omitempty"`
	StartedAt       string `json:"started_at,omitempty"`
	CompletedAt     string `json:"completed_at,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// URLVideoLink joins submitted URLs to videos, unique on the pair.
type URLVideoLink struct {
	SubmittedURLID string `json:"submitted_url_id"`
	VideoID        string `json:"video_id"`
	Position       int    `json:"position,omitempty"`
}
