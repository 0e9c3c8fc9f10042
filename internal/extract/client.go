// Package extract shells out to yt-dlp: membership enumeration, full
// metadata probes and media downloads. Everything yt-dlp prints is captured
// and folded into classified errors, never streamed to the terminal.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Options is the per-call passthrough shared by every yt-dlp invocation.
// Cookies and proxy are handed to yt-dlp opaquely.
type Options struct {
	CookiesPath   string
	ProxyURL      string
	Quality       string
	LimitRateMBps float64
}

// Entry is one video discovered during enumeration, reduced to the fields
// the pipeline needs. Position is 1-based manifest order.
type Entry struct {
	ExternalID      string
	Title           string
	Uploader        string
	DurationSeconds int64
	Position        int
	Private         bool
}

// Manifest is the result of resolving a submitted URL: the source's own
// title/description (empty for plain video URLs) plus its entries.
type Manifest struct {
	Title       string
	Description string
	Uploader    string
	Entries     []Entry
}

// VideoMeta is the full single-video metadata from a probe.
type VideoMeta struct {
	ExternalID      string
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
	FormatID        string
	FileSizeApprox  int64
}

// Client runs yt-dlp found on PATH. The zero value is ready to use.
type Client struct{}

type ytDLPCollection struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Uploader    string       `json:"uploader"`
	Entries     []ytDLPEntry `json:"entries"`
}

type ytDLPEntry struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Uploader  string  `json:"uploader"`
	Duration  float64 `json:"duration"`
	ViewCount int64   `json:"view_count"`
}

type ytDLPVideo struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Duration       float64  `json:"duration"`
	ViewCount      int64    `json:"view_count"`
	LikeCount      int64    `json:"like_count"`
	UploadDate     string   `json:"upload_date"`
	Uploader       string   `json:"uploader"`
	UploaderID     string   `json:"uploader_id"`
	ChannelID      string   `json:"channel_id"`
	Thumbnail      string   `json:"thumbnail"`
	Tags           []string `json:"tags"`
	Categories     []string `json:"categories"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	FPS            float64  `json:"fps"`
	FormatID       string   `json:"format_id"`
	FilesizeApprox int64    `json:"filesize_approx"`
	WebpageURL     string   `json:"webpage_url"`
}

// Resolve enumerates the videos behind sourceURL. flat selects
// `--flat-playlist` (playlists, channels, users); otherwise the URL is
// probed as a single video with `--no-playlist`. Entries with no id are
// dropped; private and deleted placeholders are flagged, not dropped.
func (c Client) Resolve(ctx context.Context, sourceURL string, flat bool, opts Options) (Manifest, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return Manifest{}, fmt.Errorf("source URL is required")
	}

	mode := "--flat-playlist"
	if !flat {
		mode = "--no-playlist"
	}
	args, err := appendCommonArgs([]string{"-J", mode}, opts)
	if err != nil {
		return Manifest{}, err
	}
	args = append(args, sourceURL)

	raw, err := runJSON(ctx, args)
	if err != nil {
		return Manifest{}, err
	}

	if !flat {
		var v ytDLPVideo
		if err := json.Unmarshal(raw, &v); err != nil {
			return Manifest{}, fmt.Errorf("parse yt-dlp video JSON: %w", err)
		}
		if strings.TrimSpace(v.ID) == "" {
			return Manifest{}, fmt.Errorf("yt-dlp returned a video without an id")
		}
		return Manifest{
			Entries: []Entry{{
				ExternalID:      strings.TrimSpace(v.ID),
				Title:           strings.TrimSpace(v.Title),
				Uploader:        strings.TrimSpace(v.Uploader),
				DurationSeconds: int64(v.Duration),
				Position:        1,
			}},
		}, nil
	}

	var coll ytDLPCollection
	if err := json.Unmarshal(raw, &coll); err != nil {
		return Manifest{}, fmt.Errorf("parse yt-dlp source JSON: %w", err)
	}

	m := Manifest{
		Title:       strings.TrimSpace(coll.Title),
		Description: strings.TrimSpace(coll.Description),
		Uploader:    strings.TrimSpace(coll.Uploader),
	}
	for _, e := range coll.Entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			continue
		}
		m.Entries = append(m.Entries, Entry{
			ExternalID:      id,
			Title:           strings.TrimSpace(e.Title),
			Uploader:        strings.TrimSpace(e.Uploader),
			DurationSeconds: int64(e.Duration),
			Position:        len(m.Entries) + 1,
			Private:         isPrivateEntryTitle(e.Title),
		})
	}
	return m, nil
}

// Probe fetches full metadata for one video.
func (c Client) Probe(ctx context.Context, externalID string, opts Options) (VideoMeta, error) {
	if strings.TrimSpace(externalID) == "" {
		return VideoMeta{}, fmt.Errorf("external id is required")
	}

	args, err := appendCommonArgs([]string{"-J", "--no-playlist"}, opts)
	if err != nil {
		return VideoMeta{}, err
	}
	args = append(args, watchURL(externalID))

	raw, err := runJSON(ctx, args)
	if err != nil {
		return VideoMeta{}, err
	}

	var v ytDLPVideo
	if err := json.Unmarshal(raw, &v); err != nil {
		return VideoMeta{}, fmt.Errorf("parse yt-dlp video JSON: %w", err)
	}

	meta := VideoMeta{
		ExternalID:      strings.TrimSpace(v.ID),
		SourceURL:       strings.TrimSpace(v.WebpageURL),
		Title:           strings.TrimSpace(v.Title),
		Description:     v.Description,
		DurationSeconds: int64(v.Duration),
		ViewCount:       v.ViewCount,
		LikeCount:       v.LikeCount,
		UploadDate:      strings.TrimSpace(v.UploadDate),
		Uploader:        strings.TrimSpace(v.Uploader),
		UploaderID:      strings.TrimSpace(v.UploaderID),
		ThumbnailURL:    strings.TrimSpace(v.Thumbnail),
		Tags:            v.Tags,
		Categories:      v.Categories,
		FPS:             v.FPS,
		FormatID:        strings.TrimSpace(v.FormatID),
		FileSizeApprox:  v.FilesizeApprox,
	}
	if meta.ExternalID == "" {
		meta.ExternalID = strings.TrimSpace(externalID)
	}
	if meta.SourceURL == "" {
		meta.SourceURL = watchURL(externalID)
	}
	if meta.UploaderID == "" {
		meta.UploaderID = strings.TrimSpace(v.ChannelID)
	}
	if v.Width > 0 && v.Height > 0 {
		meta.Resolution = fmt.Sprintf("%dx%d", v.Width, v.Height)
	}
	return meta, nil
}

// Download materializes the video's media into destDir as
// "<externalID>.<ext>". The caller locates the resulting file through its
// spool workspace.
func (c Client) Download(ctx context.Context, externalID, destDir string, opts Options) error {
	if strings.TrimSpace(externalID) == "" {
		return fmt.Errorf("external id is required")
	}
	if strings.TrimSpace(destDir) == "" {
		return fmt.Errorf("destination directory is required")
	}

	args := []string{
		"--no-playlist",
		"--newline",
		"--restrict-filenames",
		"-P", destDir,
		"-o", "%(id)s.%(ext)s",
		"-f", selectFormat(opts.Quality),
	}
	args, err := appendCommonArgs(args, opts)
	if err != nil {
		return err
	}
	args = append(args, watchURL(externalID))

	cmd := exec.CommandContext(ctx, "yt-dlp", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return classifyFailure(err, stderr.String()+"\n"+stdout.String())
	}
	return nil
}

// DependencyReport lists the external binaries the pipeline shells out to.
type DependencyReport struct {
	YTDLPFound  bool   `json:"yt_dlp_found"`
	YTDLPPath   string `json:"yt_dlp_path,omitempty"`
	FFmpegFound bool   `json:"ffmpeg_found"`
	FFmpegPath  string `json:"ffmpeg_path,omitempty"`
}

// DependencyStatus reports where yt-dlp and ffmpeg were found on PATH.
func DependencyStatus() DependencyReport {
	report := DependencyReport{}
	if path, err := exec.LookPath("yt-dlp"); err == nil {
		report.YTDLPFound = true
		report.YTDLPPath = path
	}
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		report.FFmpegFound = true
		report.FFmpegPath = path
	}
	return report
}

// CheckDependencies errors when a required binary is missing.
func CheckDependencies() error {
	report := DependencyStatus()
	if !report.YTDLPFound {
		return fmt.Errorf("missing dependency: yt-dlp is not installed or not on PATH")
	}
	if !report.FFmpegFound {
		return fmt.Errorf("missing dependency: ffmpeg is required for many YouTube formats and was not found on PATH")
	}
	return nil
}

func runJSON(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "yt-dlp", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, classifyFailure(err, stderr.String()+"\n"+stdout.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("yt-dlp returned empty output")
	}
	return stdout.Bytes(), nil
}

func appendCommonArgs(args []string, opts Options) ([]string, error) {
	if strings.TrimSpace(opts.CookiesPath) != "" {
		cookiesPath, err := resolveCookiesPath(opts.CookiesPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--cookies", cookiesPath)
	}
	if strings.TrimSpace(opts.ProxyURL) != "" {
		args = append(args, "--proxy", strings.TrimSpace(opts.ProxyURL))
	}
	if opts.LimitRateMBps > 0 {
		args = append(args, "--limit-rate", fmt.Sprintf("%gM", opts.LimitRateMBps))
	}
	return args, nil
}

func selectFormat(rawQuality string) string {
	switch strings.ToLower(strings.TrimSpace(rawQuality)) {
	case "", "best":
		return "bv*+ba/b"
	case "1080p", "1080", "hd":
		return "bv*[height<=1080]+ba/b[height<=1080]"
	case "720p", "720", "sd", "small":
		return "bv*[height<=720]+ba/b[height<=720]"
	default:
		return "bv*+ba/b"
	}
}

func watchURL(externalID string) string {
	return "https://www.youtube.com/watch?v=" + strings.TrimSpace(externalID)
}

func isPrivateEntryTitle(title string) bool {
	t := strings.TrimSpace(title)
	return t == "[Private video]" || t == "[Deleted video]"
}

func resolveCookiesPath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve cookies path %s: %w", p, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("cookies file %s: %w", abs, err)
	}
	return abs, nil
}
