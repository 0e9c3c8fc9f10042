package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"yt-ingest/internal/spool"
	"yt-ingest/internal/store"
)

// Pool runs N claim-process worker loops plus a background reaper over one
// shared store. An idle worker sleeps PollInterval between claim attempts; a
// busy one pauses JobPause between jobs. The reaper requeues jobs stuck in
// processing for longer than ReapAfter and sweeps spool leftovers on the
// same cutoff, so a requeued video is never blocked by its own dead
// workspace.
type Pool struct {
	Workers      int
	PollInterval time.Duration
	JobPause     time.Duration
	ReapInterval time.Duration
	ReapAfter    time.Duration

	// ProxyFor returns the proxy for a 1-based worker id; nil or "" means
	// direct connection.
	ProxyFor func(workerID int) string
}

func (p *Pool) defaults() {
	if p.Workers <= 0 {
		p.Workers = 2
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 10 * time.Second
	}
	if p.JobPause < 0 {
		p.JobPause = time.Second
	}
	if p.ReapInterval <= 0 {
		p.ReapInterval = 2 * time.Minute
	}
	if p.ReapAfter <= 0 {
		p.ReapAfter = 30 * time.Minute
	}
}

// Run blocks until ctx ends. Jobs in flight at cancellation are left in
// processing; the next run's startup reap requeues them once they age out.
func (p Pool) Run(ctx context.Context, cfg Config) error {
	p.defaults()
	cfg.defaults()
	log := cfg.Logger

	log.Info("worker pool starting",
		"workers", p.Workers,
		"poll_interval", p.PollInterval,
		"reap_after", p.ReapAfter)

	p.reap(ctx, cfg.Store, cfg.Spool, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reaperLoop(ctx, cfg.Store, cfg.Spool, log)
	}()

	for id := 1; id <= p.Workers; id++ {
		workerCfg := cfg
		if p.ProxyFor != nil {
			workerCfg.Extract.ProxyURL = p.ProxyFor(id)
		}
		workerCfg.Logger = log.With("worker", id)
		worker := New(workerCfg)

		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workerLoop(ctx, worker)
		}()
	}

	wg.Wait()
	log.Info("worker pool stopped")
	return ctx.Err()
}

func (p Pool) workerLoop(ctx context.Context, o *Orchestrator) {
	for ctx.Err() == nil {
		job, ok, err := o.cfg.Store.ClaimNextJob(ctx)
		if err != nil {
			if ctx.Err() == nil {
				o.log.Error("claim failed", "error", err)
			}
			if !pause(ctx, p.PollInterval) {
				return
			}
			continue
		}
		if !ok {
			if !pause(ctx, p.PollInterval) {
				return
			}
			continue
		}

		o.log.Info("job claimed", "job_id", job.ID)
		if err := o.ProcessJob(ctx, job); err != nil {
			if ctx.Err() != nil {
				o.log.Info("stopping mid-job", "job_id", job.ID)
				return
			}
			o.log.Error("job aborted", "job_id", job.ID, "error", err)
		}
		if !pause(ctx, p.JobPause) {
			return
		}
	}
}

func (p Pool) reaperLoop(ctx context.Context, st *store.Store, sp *spool.Spool, log *slog.Logger) {
	ticker := time.NewTicker(p.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reap(ctx, st, sp, log)
		}
	}
}

func (p Pool) reap(ctx context.Context, st *store.Store, sp *spool.Spool, log *slog.Logger) {
	n, err := st.ReapStuckJobs(ctx, p.ReapAfter)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("reap failed", "error", err)
		}
	} else if n > 0 {
		log.Warn("requeued stuck jobs", "count", n)
	}

	if sp == nil {
		return
	}
	swept, err := sp.Sweep(p.ReapAfter)
	if err != nil {
		log.Error("spool sweep failed", "error", err)
	} else if swept > 0 {
		log.Warn("swept stale spool workspaces", "count", swept)
	}
}

// pause sleeps for d unless ctx ends first. Returns false on cancellation.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
