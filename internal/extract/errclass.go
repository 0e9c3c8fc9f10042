package extract

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound marks videos yt-dlp reports as gone for good: private,
// deleted, or on a terminated account. Never retried.
var ErrNotFound = errors.New("extract: video unavailable")

// ErrRateLimited marks throttling responses. Retried after the long
// rate-limit delay rather than the normal backoff.
var ErrRateLimited = errors.New("extract: rate limited")

var notFoundHints = []string{
	"video unavailable",
	"private video",
	"this video is private",
	"has been removed",
	"account associated with this video has been terminated",
	"no longer available",
	"404",
}

var rateLimitHints = []string{
	"429",
	"too many requests",
	"rate-limit",
	"rate limit",
}

// classifyFailure folds a failed yt-dlp run into a classified error. The
// combined stderr/stdout text decides the class; the first meaningful line
// is kept as detail.
func classifyFailure(runErr error, output string) error {
	detail := firstMeaningfulLine(output)
	lower := strings.ToLower(output)

	if containsAny(lower, rateLimitHints) {
		return fmt.Errorf("%w: %s", ErrRateLimited, detail)
	}
	if containsAny(lower, notFoundHints) {
		return fmt.Errorf("%w: %s", ErrNotFound, detail)
	}
	if detail == "" {
		return fmt.Errorf("yt-dlp failed: %w", runErr)
	}
	return fmt.Errorf("yt-dlp failed: %w: %s", runErr, detail)
}

func containsAny(text string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(text, h) {
			return true
		}
	}
	return false
}

// firstMeaningfulLine returns the first ERROR-prefixed line, or failing
// that the first non-empty line.
func firstMeaningfulLine(output string) string {
	lines := strings.Split(output, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "ERROR:") {
			return trimmed
		}
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
