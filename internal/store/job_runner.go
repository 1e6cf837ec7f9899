package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/metrics"
)

// Job results recorded in intake_jobs_total.
const (
	JobResultCompleted = "completed"
	JobResultRetried   = "retried"
	JobResultUnhandled = "unhandled"
)

// Defaults for JobRunner.
const (
	DefaultJobPollInterval = 10 * time.Second
	DefaultJobStaleAfter   = 5 * time.Minute
	DefaultJobBatchSize    = 10
	DefaultJobBackoff      = 30 * time.Second
	DefaultJobMaxBackoff   = 30 * time.Minute
	unhandledJobDelay      = time.Minute
)

// JobHandler runs one job. payload is the job's payload JSON; a returned
// error reschedules the job while attempts remain.
type JobHandler func(ctx context.Context, payload string) error

// Backoff is the retry schedule of one job kind: base doubled per attempt,
// capped at max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retrying after the given attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	base, limit := b.Base, b.Max
	if base <= 0 {
		base = DefaultJobBackoff
	}
	if limit < base {
		limit = max(base, DefaultJobMaxBackoff)
	}
	d := base
	for i := 0; i < attempt && d < limit; i++ {
		d *= 2
	}
	return min(d, limit)
}

// HandlerOption configures one registered job kind.
type HandlerOption func(*jobKind)

// WithBackoff sets the retry schedule of a job kind.
func WithBackoff(base, maxDelay time.Duration) HandlerOption {
	return func(k *jobKind) { k.backoff = Backoff{Base: base, Max: maxDelay} }
}

type jobKind struct {
	handler JobHandler
	backoff Backoff
}

// JobRunner claims due jobs (proposal retries, follow-ups) and runs the
// handler registered for their kind.
type JobRunner struct {
	repo  JobRepo
	every time.Duration
	now   func() time.Time

	mu    sync.RWMutex
	kinds map[string]jobKind
}

// NewJobRunner creates a JobRunner polling repo every pollInterval.
func NewJobRunner(repo JobRepo, pollInterval time.Duration) *JobRunner {
	if pollInterval <= 0 {
		pollInterval = DefaultJobPollInterval
	}
	return &JobRunner{
		repo:  repo,
		every: pollInterval,
		now:   time.Now,
		kinds: make(map[string]jobKind),
	}
}

// RegisterHandler sets the handler for kind, replacing any earlier one.
func (r *JobRunner) RegisterHandler(kind string, handler JobHandler, opts ...HandlerOption) {
	k := jobKind{handler: handler}
	for _, opt := range opts {
		opt(&k)
	}
	r.mu.Lock()
	r.kinds[kind] = k
	r.mu.Unlock()
	slog.Debug("JobRunner.RegisterHandler", "kind", kind, "backoff", k.backoff.Base, "max_backoff", k.backoff.Max)
}

func (r *JobRunner) kind(name string) (jobKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	return k, ok
}

// RecoverStaleJobs puts jobs left running by a crashed process back in the
// queue. Call it once before Run.
func (r *JobRunner) RecoverStaleJobs(ctx context.Context) error {
	n, err := r.repo.RequeueStaleRunningJobs(ctx, r.now().Add(-DefaultJobStaleAfter))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("JobRunner.RecoverStaleJobs: jobs requeued", "count", n)
	}
	return nil
}

// Run drains due jobs every poll interval until ctx is done.
func (r *JobRunner) Run(ctx context.Context) {
	slog.Info("JobRunner.Run: started", "poll_interval", r.every)
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("JobRunner.Run: stopped")
			return
		case <-ticker.C:
			r.RunDue(ctx)
		}
	}
}

// RunDue claims one batch of due jobs and runs them. It returns how many
// jobs were claimed.
func (r *JobRunner) RunDue(ctx context.Context) int {
	now := r.now()
	jobs, err := r.repo.ClaimDueJobs(ctx, now, DefaultJobBatchSize)
	if err != nil {
		slog.Error("JobRunner.RunDue: claim failed", "error", err)
		return 0
	}
	for _, job := range jobs {
		result := r.execute(ctx, job, now)
		metrics.RecordJob(job.Kind, result)
	}
	return len(jobs)
}

func (r *JobRunner) execute(ctx context.Context, job Job, now time.Time) string {
	k, ok := r.kind(job.Kind)
	if !ok {
		slog.Warn("JobRunner.execute: no handler for kind", "kind", job.Kind, "job_id", job.ID)
		r.reschedule(ctx, job, "no handler registered for kind: "+job.Kind, now.Add(unhandledJobDelay))
		return JobResultUnhandled
	}

	if err := k.handler(ctx, job.PayloadJSON); err != nil {
		delay := k.backoff.Delay(job.Attempt)
		slog.Error("JobRunner.execute: job failed", "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "retry_in", delay, "error", err)
		r.reschedule(ctx, job, err.Error(), now.Add(delay))
		return JobResultRetried
	}

	if err := r.repo.CompleteJob(ctx, job.ID); err != nil {
		slog.Error("JobRunner.execute: could not mark job done", "job_id", job.ID, "error", err)
	}
	slog.Debug("JobRunner.execute: job done", "job_id", job.ID, "kind", job.Kind)
	return JobResultCompleted
}

// reschedule records the failure; the repo drops the job once its attempts
// are used up.
func (r *JobRunner) reschedule(ctx context.Context, job Job, reason string, at time.Time) {
	if err := r.repo.FailJob(ctx, job.ID, reason, at); err != nil {
		slog.Error("JobRunner.reschedule: could not record failure", "job_id", job.ID, "error", err)
	}
}
