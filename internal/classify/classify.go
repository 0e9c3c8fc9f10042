// Package classify turns raw YouTube URLs into a kind plus canonical
// identifier. Classification is pure and deterministic; the canonical URL it
// produces is the store-side uniqueness key for duplicate submissions.
package classify

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"yt-ingest/internal/model"
)

// ErrInvalidURL marks input that is not a recognized YouTube URL shape. It is
// surfaced at submission time and never retried.
var ErrInvalidURL = errors.New("invalid YouTube URL")

type Classification struct {
	Kind         string `json:"kind"`
	CanonicalID  string `json:"canonical_id"`
	CanonicalURL string `json:"canonical_url"`
}

var (
	videoIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	plainIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	handlePattern   = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	acceptedDomains = map[string]bool{
		"youtube.com":   true,
		"m.youtube.com": true,
		"youtu.be":      true,
	}
)

// Classify parses rawURL and returns its kind and canonical identifier.
// Scheme-less and protocol-relative input is normalized to https:// first;
// unrelated query parameters are ignored.
func Classify(rawURL string) (Classification, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return Classification{}, fmt.Errorf("%w: URL is empty", ErrInvalidURL)
	}

	parsed, err := url.Parse(normalizeScheme(trimmed))
	if err != nil {
		return Classification{}, fmt.Errorf("%w: %s", ErrInvalidURL, trimmed)
	}

	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if !acceptedDomains[host] {
		return Classification{}, fmt.Errorf("%w: unsupported host %q", ErrInvalidURL, parsed.Hostname())
	}

	if host == "youtu.be" {
		id := firstPathSegment(parsed.Path)
		if !videoIDPattern.MatchString(id) {
			return Classification{}, fmt.Errorf("%w: %s", ErrInvalidURL, trimmed)
		}
		return videoClassification(id), nil
	}

	segments := pathSegments(parsed.Path)
	if len(segments) == 0 {
		return Classification{}, fmt.Errorf("%w: %s", ErrInvalidURL, trimmed)
	}

	switch {
	case segments[0] == "watch":
		return classifyWatch(parsed, trimmed)
	case segments[0] == "playlist":
		list := parsed.Query().Get("list")
		if !plainIDPattern.MatchString(list) {
			return Classification{}, fmt.Errorf("%w: playlist URL without list id", ErrInvalidURL)
		}
		return playlistClassification(list), nil
	case (segments[0] == "embed" || segments[0] == "v") && len(segments) > 1:
		if !videoIDPattern.MatchString(segments[1]) {
			return Classification{}, fmt.Errorf("%w: %s", ErrInvalidURL, trimmed)
		}
		return videoClassification(segments[1]), nil
	case segments[0] == "channel" && len(segments) > 1:
		if !plainIDPattern.MatchString(segments[1]) {
			return Classification{}, fmt.Errorf("%w: %s", ErrInvalidURL, trimmed)
		}
		return channelClassification(segments[1]), nil
	case segments[0] == "c" && len(segments) > 1:
		if !plainIDPattern.MatchString(segments[1]) {
			return Classification{}, fmt.Errorf("%w: %s", ErrInvalidURL, trimmed)
		}
		return channelClassification(segments[1]), nil
	case strings.HasPrefix(segments[0], "@"):
		handle := strings.TrimPrefix(segments[0], "@")
		if !handlePattern.MatchString(handle) {
			return Classification{}, fmt.Errorf("%w: %s", ErrInvalidURL, trimmed)
		}
		return channelClassification(handle), nil
	case segments[0] == "user" && len(segments) > 1:
		if !plainIDPattern.MatchString(segments[1]) {
			return Classification{}, fmt.Errorf("%w: %s", ErrInvalidURL, trimmed)
		}
		return Classification{
			Kind:         model.KindUser,
			CanonicalID:  segments[1],
			CanonicalURL: "https://www.youtube.com/user/" + segments[1],
		}, nil
	}

	return Classification{}, fmt.Errorf("%w: could not determine URL type for %s", ErrInvalidURL, trimmed)
}

// Watch URLs carrying both v= and list= classify as the single video; only a
// watch URL without a usable video id falls through to the playlist.
func classifyWatch(parsed *url.URL, raw string) (Classification, error) {
	query := parsed.Query()
	if id := query.Get("v"); videoIDPattern.MatchString(id) {
		return videoClassification(id), nil
	}
	if list := query.Get("list"); plainIDPattern.MatchString(list) {
		return playlistClassification(list), nil
	}
	return Classification{}, fmt.Errorf("%w: watch URL without video or list id: %s", ErrInvalidURL, raw)
}

func videoClassification(id string) Classification {
	return Classification{
		Kind:         model.KindVideo,
		CanonicalID:  id,
		CanonicalURL: "https://www.youtube.com/watch?v=" + id,
	}
}

func playlistClassification(id string) Classification {
	return Classification{
		Kind:         model.KindPlaylist,
		CanonicalID:  id,
		CanonicalURL: "https://www.youtube.com/playlist?list=" + id,
	}
}

// Raw channel ids keep their /channel/ form; names and handles canonicalize
// to the @handle form.
func channelClassification(id string) Classification {
	if strings.HasPrefix(id, "UC") && len(id) == 24 {
		return Classification{
			Kind:         model.KindChannel,
			CanonicalID:  id,
			CanonicalURL: "https://www.youtube.com/channel/" + id,
		}
	}
	return Classification{
		Kind:         model.KindChannel,
		CanonicalID:  id,
		CanonicalURL: "https://www.youtube.com/@" + id,
	}
}

func normalizeScheme(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return raw
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	default:
		return "https://" + raw
	}
}

func pathSegments(path string) []string {
	segments := make([]string, 0, 4)
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func firstPathSegment(path string) string {
	segments := pathSegments(path)
	if len(segments) == 0 {
		return ""
	}
	return segments[0]
}
