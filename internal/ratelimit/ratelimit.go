// internal/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github-jira-sync/internal/model"
	"github-jira-sync/internal/queue"
)

const maxTrackedInstallations = 10000

type Config struct {
	// MaxConcurrent jobs per installation.
	MaxConcurrent int
	// MinInterval between successive job starts of one installation.
	MinInterval time.Duration
	// TTL after which an idle installation's limiter state is forgotten.
	TTL time.Duration
}

type limiter struct {
	sem   *semaphore.Weighted
	start *rate.Limiter
}

// Registry shapes job throughput per GitHub installation. Its state is a
// cache: dropping it only loosens throttling.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	limiters *expirable.LRU[int64, *limiter]
}

func New(cfg Config, logger *slog.Logger) *Registry {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		limiters: expirable.NewLRU[int64, *limiter](maxTrackedInstallations, nil, cfg.TTL),
	}
}

func (r *Registry) get(installationID int64) *limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters.Get(installationID)
	if !ok {
		every := rate.Inf
		if r.cfg.MinInterval > 0 {
			every = rate.Every(r.cfg.MinInterval)
		}
		l = &limiter{
			sem:   semaphore.NewWeighted(int64(r.cfg.MaxConcurrent)),
			start: rate.NewLimiter(every, 1),
		}
	}
	// Re-adding refreshes the expiry of an installation that is still busy.
	r.limiters.Add(installationID, l)
	return l
}

// Acquire blocks until the installation may start another job. The returned
// release must be called when the job finishes.
func (r *Registry) Acquire(ctx context.Context, installationID int64) (func(), error) {
	l := r.get(installationID)
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := l.start.Wait(ctx); err != nil {
		l.sem.Release(1)
		return nil, err
	}
	return func() { l.sem.Release(1) }, nil
}

// Middleware throttles jobs whose payload names an installation. Other jobs pass through.
func (r *Registry) Middleware() queue.Middleware {
	return func(next queue.Handler) queue.Handler {
		return func(ctx context.Context, job queue.Job) error {
			target, ok := job.Data.(model.InstallationJob)
			if !ok {
				return next(ctx, job)
			}
			installationID := target.GitHubInstallation()

			waitStart := time.Now()
			release, err := r.Acquire(ctx, installationID)
			if err != nil {
				return err
			}
			defer release()

			if waited := time.Since(waitStart); waited > time.Second {
				r.logger.Debug("Job throttled", "installation_id", installationID, "lane", job.Data.Lane(), "waited", waited.String())
			}
			return next(ctx, job)
		}
	}
}
