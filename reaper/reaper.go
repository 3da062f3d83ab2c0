// Package reaper implements the Lease Reaper: a periodic sweep that
// reclaims running jobs whose lease has expired, returning them to
// queued (or dead, once attempts are exhausted) so another worker can
// pick them up. It is the sole writer of the running→queued
// transition caused by lease expiry; Claim never reclaims inline.
package reaper

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"spine/job"
	"spine/mutex"
)

// Engine is the subset of *engine.Engine the reaper needs. Declared
// here, rather than importing the engine package directly, to keep
// reaper's dependency surface narrow and testable.
type Engine interface {
	Store() job.Store
	Mutex() *mutex.FileMutex
	Clock() func() time.Time
	Logger() *slog.Logger
}

// Reaper sweeps for expired leases on a schedule.
type Reaper struct {
	store  job.Store
	mu     *mutex.FileMutex
	clock  func() time.Time
	logger *slog.Logger

	schedule string
	cron     *cron.Cron
}

// New creates a Reaper that sweeps e's store on the given cron
// schedule expression (e.g. "@every 10s").
func New(e Engine, schedule string) *Reaper {
	logger := e.Logger()
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		store:    e.Store(),
		mu:       e.Mutex(),
		clock:    e.Clock(),
		logger:   logger,
		schedule: schedule,
	}
}

// Start runs one sweep immediately, then schedules further sweeps per
// the configured cron expression. It returns once the scheduler
// goroutine has been started; Stop must be called to shut it down.
func (r *Reaper) Start() error {
	r.RunOnce()

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, r.RunOnce); err != nil {
		return err
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop halts the scheduler. It blocks until any in-flight sweep
// finishes.
func (r *Reaper) Stop() {
	if r.cron == nil {
		return
	}
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// RunOnce performs a single sweep over every job currently on disk,
// reclaiming any whose lease has expired. Errors reading or listing
// jobs are logged and otherwise ignored — the next scheduled sweep
// will retry.
func (r *Reaper) RunOnce() {
	jobs, err := r.store.List()
	if err != nil {
		r.logger.Error("reaper: list failed", slog.String("error", err.Error()))
		return
	}

	now := r.clock().UTC()
	reclaimed := 0

	for _, j := range jobs {
		if j.Status != job.StatusRunning {
			continue
		}
		if j.LeaseUntil == nil || !now.After(*j.LeaseUntil) {
			continue
		}

		id := j.ID
		err := r.mu.WithLock(id, func() error {
			return r.reclaim(id, now)
		})
		if err != nil {
			r.logger.Error("reaper: reclaim failed",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		reclaimed++
	}

	if reclaimed > 0 {
		r.logger.Info("reaper: swept expired leases", slog.Int("count", reclaimed))
	}
}

// reclaim re-reads j under the claim mutex to avoid racing a
// heartbeat or completion that landed between List and the lock
// acquisition, then requeues or kills it.
func (r *Reaper) reclaim(id string, now time.Time) error {
	j, err := r.store.Read(id)
	if err != nil {
		return err
	}
	if j.Status != job.StatusRunning || j.LeaseUntil == nil || !now.After(*j.LeaseUntil) {
		// Raced: the owner heartbeat/completed/failed since List ran.
		return nil
	}

	expiredBy := j.ClaimedBy
	j.ClaimedBy = ""
	j.LeaseUntil = nil
	j.UpdatedAt = now

	eventType := job.EventExpired
	data := map[string]string{"previous_claim": expiredBy}
	if j.Attempts >= j.MaxAttempts {
		j.Status = job.StatusDead
		eventType = job.EventDead
		data["reason"] = "lease_expired_max_attempts"
	} else {
		j.Status = job.StatusQueued
	}

	if err := r.store.WriteAtomic(j); err != nil {
		return err
	}

	return r.store.AppendEvent(id, job.NewEvent(now, eventType, "reaper", data))
}
