package ingest

import (
	"context"
	"errors"
	"math"
	"time"

	"yt-ingest/internal/extract"
	"yt-ingest/internal/storage"
)

// RetryPolicy bounds repeated extractor and uploader calls. Attempt n waits
// BaseDelay * Multiplier^(n-1) before retrying; rate-limited failures wait
// RateLimitDelay instead. Not-found and bad-credential failures never retry.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	Multiplier     float64
	RateLimitDelay time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.RateLimitDelay <= 0 {
		p.RateLimitDelay = 30 * time.Second
	}
	return p
}

// Do runs fn until it succeeds, a permanent failure occurs, attempts run
// out, or ctx ends. The last failure is returned as is so callers can
// classify it with errors.Is.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	p = p.normalized()
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || permanent(err) || attempt >= p.MaxAttempts {
			return err
		}

		wait := p.RateLimitDelay
		if !rateLimited(err) {
			wait = time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1)))
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func permanent(err error) bool {
	return errors.Is(err, extract.ErrNotFound) || errors.Is(err, storage.ErrAuth)
}

func rateLimited(err error) bool {
	return errors.Is(err, extract.ErrRateLimited) || errors.Is(err, storage.ErrRateLimited)
}
