// Package engine implements the Spine job state machine: the central
// component that owns the queued→running→{done,failed,dead,queued}
// transitions, attempt accounting, lease timestamps, and ownership
// rules. Every state-changing operation executes under the per-job
// claim mutex and persists through the atomic store before returning.
package engine

import (
	"log/slog"
	"sort"
	"time"

	"spine"
	"spine/authz"
	"spine/id"
	"spine/job"
	"spine/mutex"
)

// Clock abstracts time.Now so tests can control lease expiry without
// sleeping.
type Clock func() time.Time

// Recorder receives a notification after every state-changing engine
// operation (create, claim, heartbeat, complete, fail, release,
// comment), successful or not; List and Get are not reported. It is
// the hook point for observability middleware; a nil Recorder is
// equivalent to a no-op.
type Recorder interface {
	RecordOperation(op string, j *job.Job, err error, elapsed time.Duration)
}

// Config holds the engine's tunable parameters.
type Config struct {
	// LeaseDuration is how long a claim grants exclusive ownership
	// before it is eligible for reaping.
	LeaseDuration time.Duration
	// DefaultMaxAttempts is substituted when create() is not given an
	// explicit maxAttempts.
	DefaultMaxAttempts int
}

// Engine is the job state machine. It is safe for concurrent use.
type Engine struct {
	store    job.Store
	mu       *mutex.FileMutex
	cfg      Config
	clock    Clock
	logger   *slog.Logger
	recorder Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source. Intended for tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRecorder attaches an observability Recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New creates an Engine backed by store and protected by mu.
func New(store job.Store, mu *mutex.FileMutex, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:  store,
		mu:     mu,
		cfg:    cfg,
		clock:  time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) now() time.Time { return e.clock().UTC() }

func (e *Engine) record(op string, j *job.Job, err error, start time.Time) {
	if e.recorder != nil {
		e.recorder.RecordOperation(op, j, err, time.Since(start))
	}
}

// CreateInput is the payload for Create.
type CreateInput struct {
	Target      job.Target
	Spec        string
	Meta        []byte
	MaxAttempts int
}

// Create persists a new job in status=queued. Head-only; callers
// enforce the role check (create has no ownership/visibility
// predicate to apply).
func (e *Engine) Create(in CreateInput) (*job.Job, error) {
	start := time.Now()

	target := in.Target
	if target == "" {
		target = job.TargetAny
	}

	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.cfg.DefaultMaxAttempts
	}

	now := e.now()
	j := &job.Job{
		ID:          id.New(),
		Target:      target,
		Status:      job.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   "head",
		Attempts:    0,
		MaxAttempts: maxAttempts,
		Spec:        in.Spec,
		Meta:        in.Meta,
		Comments:    []job.Comment{},
	}

	err := e.store.WriteAtomic(j)
	if err == nil {
		e.appendEvent(j.ID, job.EventCreated, "head", nil)
	}
	e.record("create", j, err, start)
	return j, err
}

// ListFilters narrows List results.
type ListFilters struct {
	Status job.Status
	Target job.Target
}

// List returns every job visible to role, honoring filters, ordered
// by createdAt ascending.
func (e *Engine) List(role authz.Role, filters ListFilters) ([]*job.Job, error) {
	all, err := e.store.List()
	if err != nil {
		return nil, err
	}

	out := make([]*job.Job, 0, len(all))
	for _, j := range all {
		if !authz.CanAccess(role, j) {
			continue
		}
		if filters.Status != "" && j.Status != filters.Status {
			continue
		}
		if filters.Target != "" && j.Target != filters.Target {
			continue
		}
		out = append(out, j)
	}

	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})

	return out, nil
}

// Get returns the job with id if it exists and role may access it.
func (e *Engine) Get(role authz.Role, jobID string) (*job.Job, error) {
	j, err := e.store.Read(jobID)
	if err != nil {
		return nil, err
	}
	if !authz.CanAccess(role, j) {
		return nil, spine.ErrForbidden
	}
	return j, nil
}

// Claim transitions a queued job to running under a fresh lease,
// exclusive to the calling worker. A running job whose lease has
// already expired is reported as already-claimed here rather than
// reclaimed inline: the reaper is the sole writer of the running→queued
// transition caused by lease expiry, so callers racing an expired lease
// retry after the next sweep.
func (e *Engine) Claim(role authz.Role, jobID string) (*job.Job, error) {
	start := time.Now()
	var result *job.Job

	err := e.mu.WithLock(jobID, func() error {
		j, err := e.store.Read(jobID)
		if err != nil {
			return err
		}
		if !authz.CanAccess(role, j) {
			return spine.ErrForbidden
		}

		// Status gates first: a running job with attempts at the cap
		// is still entitled to finish its in-flight run, so the
		// max-attempts kill below only ever applies to queued jobs.
		switch {
		case j.Status.Terminal():
			return spine.ErrTerminalStatus
		case j.Status == job.StatusRunning:
			return spine.ErrAlreadyClaimed
		}

		if j.Attempts >= j.MaxAttempts {
			return e.killMaxAttempts(j)
		}

		now := e.now()
		lease := now.Add(e.cfg.LeaseDuration)
		j.Status = job.StatusRunning
		j.ClaimedBy = role.CanonicalName()
		j.LeaseUntil = &lease
		j.Attempts++
		j.UpdatedAt = now

		if err := e.store.WriteAtomic(j); err != nil {
			return err
		}
		e.appendEvent(j.ID, job.EventClaimed, role.CanonicalName(), nil)
		result = j
		return nil
	})

	if err != nil && result == nil {
		// killMaxAttempts may have written a dead record before
		// returning its error; re-read isn't required by the
		// contract, so only record with whatever we have.
		e.record("claim", nil, err, start)
		return nil, err
	}
	e.record("claim", result, err, start)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// killMaxAttempts transitions j to dead in place because attempts has
// already reached maxAttempts at claim time. Must be called while
// holding the claim mutex for j.ID.
func (e *Engine) killMaxAttempts(j *job.Job) error {
	now := e.now()
	j.Status = job.StatusDead
	j.ClaimedBy = ""
	j.LeaseUntil = nil
	j.UpdatedAt = now

	if err := e.store.WriteAtomic(j); err != nil {
		return err
	}
	e.appendEvent(j.ID, job.EventDead, "engine", map[string]string{"reason": "max_attempts_reached"})
	return spine.ErrMaxAttemptsReached
}

// ownerPrecheck applies the heartbeat/complete/fail/release shared
// preconditions: job exists, caller may access it, job is running,
// caller is owner or head. Must be called while holding the claim
// mutex for jobID.
func (e *Engine) ownerPrecheck(role authz.Role, jobID string) (*job.Job, error) {
	j, err := e.store.Read(jobID)
	if err != nil {
		return nil, err
	}
	if !authz.CanAccess(role, j) {
		return nil, spine.ErrForbidden
	}
	if j.Status != job.StatusRunning {
		return nil, spine.ErrNotRunning
	}
	if !authz.IsOwnerOrHead(role, j) {
		return nil, spine.ErrNotOwner
	}
	return j, nil
}

// HeartbeatInput is the payload for Heartbeat.
type HeartbeatInput struct {
	Progress []byte
}

// Heartbeat extends a running job's lease and optionally records
// progress. Idempotent with respect to status/attempts/claimedBy.
func (e *Engine) Heartbeat(role authz.Role, jobID string, in HeartbeatInput) (*job.Job, error) {
	start := time.Now()
	var result *job.Job

	err := e.mu.WithLock(jobID, func() error {
		j, err := e.ownerPrecheck(role, jobID)
		if err != nil {
			return err
		}

		now := e.now()
		lease := now.Add(e.cfg.LeaseDuration)
		j.LeaseUntil = &lease
		j.UpdatedAt = now
		if in.Progress != nil {
			j.Progress = in.Progress
		}

		if err := e.store.WriteAtomic(j); err != nil {
			return err
		}
		e.appendEvent(j.ID, job.EventHeartbeat, role.CanonicalName(), nil)
		result = j
		return nil
	})

	e.record("heartbeat", result, err, start)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CompleteInput is the payload for Complete.
type CompleteInput struct {
	Result []byte
}

// Complete marks a running job done. ClaimedBy is intentionally left
// set as an audit trail of who finished the job; Fail and Release
// clear it.
func (e *Engine) Complete(role authz.Role, jobID string, in CompleteInput) (*job.Job, error) {
	start := time.Now()
	var result *job.Job

	err := e.mu.WithLock(jobID, func() error {
		j, err := e.ownerPrecheck(role, jobID)
		if err != nil {
			return err
		}

		now := e.now()
		j.Status = job.StatusDone
		j.Result = in.Result
		j.Error = ""
		j.LeaseUntil = nil
		j.UpdatedAt = now

		if err := e.store.WriteAtomic(j); err != nil {
			return err
		}
		e.appendEvent(j.ID, job.EventCompleted, role.CanonicalName(), nil)
		result = j
		return nil
	})

	e.record("complete", result, err, start)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FailInput is the payload for Fail.
type FailInput struct {
	Error   string
	Requeue *bool // nil means "not supplied" -> defaults to true
}

// Fail records a failed run and either requeues the job or marks it
// terminal. Requeue defaults to true but is overridden when attempts
// are exhausted.
func (e *Engine) Fail(role authz.Role, jobID string, in FailInput) (*job.Job, error) {
	start := time.Now()
	var result *job.Job

	err := e.mu.WithLock(jobID, func() error {
		j, err := e.ownerPrecheck(role, jobID)
		if err != nil {
			return err
		}

		requested := in.Requeue == nil || *in.Requeue
		requeue := requested && j.Attempts < j.MaxAttempts

		now := e.now()
		j.UpdatedAt = now
		j.Error = in.Error
		j.LeaseUntil = nil

		if requeue {
			j.Status = job.StatusQueued
			j.ClaimedBy = ""
		} else {
			if j.Attempts >= j.MaxAttempts {
				j.Status = job.StatusDead
			} else {
				j.Status = job.StatusFailed
			}
			j.ClaimedBy = ""
		}

		if err := e.store.WriteAtomic(j); err != nil {
			return err
		}
		e.appendEvent(j.ID, job.EventFailed, role.CanonicalName(), map[string]any{
			"requeued": requeue,
			"attempts": j.Attempts,
		})
		result = j
		return nil
	})

	e.record("fail", result, err, start)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReleaseInput is the payload for Release.
type ReleaseInput struct {
	Reason string
}

// Release voluntarily returns a running job to queued without
// touching attempts.
func (e *Engine) Release(role authz.Role, jobID string, in ReleaseInput) (*job.Job, error) {
	start := time.Now()
	var result *job.Job

	err := e.mu.WithLock(jobID, func() error {
		j, err := e.ownerPrecheck(role, jobID)
		if err != nil {
			return err
		}

		now := e.now()
		j.Status = job.StatusQueued
		j.ClaimedBy = ""
		j.LeaseUntil = nil
		j.UpdatedAt = now
		if in.Reason != "" {
			j.ReleaseReason = in.Reason
		}

		if err := e.store.WriteAtomic(j); err != nil {
			return err
		}
		e.appendEvent(j.ID, job.EventReleased, role.CanonicalName(), nil)
		result = j
		return nil
	})

	e.record("release", result, err, start)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CommentInput is the payload for Comment.
type CommentInput struct {
	Text string
}

// Comment appends a comment. Requires only canAccess — not ownership,
// not a specific status.
func (e *Engine) Comment(role authz.Role, jobID string, in CommentInput) (*job.Job, error) {
	start := time.Now()
	var result *job.Job

	err := e.mu.WithLock(jobID, func() error {
		j, err := e.store.Read(jobID)
		if err != nil {
			return err
		}
		if !authz.CanAccess(role, j) {
			return spine.ErrForbidden
		}

		now := e.now()
		j.Comments = append(j.Comments, job.Comment{
			T:    now,
			By:   role.CanonicalName(),
			Text: in.Text,
		})
		j.UpdatedAt = now

		if err := e.store.WriteAtomic(j); err != nil {
			return err
		}
		e.appendEvent(j.ID, job.EventComment, role.CanonicalName(), map[string]string{"text": in.Text})
		result = j
		return nil
	})

	e.record("comment", result, err, start)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) appendEvent(jobID string, typ job.EventType, by string, data any) {
	ev := job.NewEvent(e.now(), typ, by, data)
	if err := e.store.AppendEvent(jobID, ev); err != nil {
		e.logger.Error("failed to append event",
			slog.String("job_id", jobID),
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}

// Store exposes the underlying job.Store, used by the reaper to
// enumerate jobs for the lease sweep.
func (e *Engine) Store() job.Store { return e.store }

// Mutex exposes the underlying claim mutex, used by the reaper so its
// sweep serializes against request handlers via the same primitive.
func (e *Engine) Mutex() *mutex.FileMutex { return e.mu }

// Clock exposes the engine's time source, used by the reaper so lease
// expiry checks agree with claim/heartbeat/complete timestamps.
func (e *Engine) Clock() func() time.Time { return e.clock }

// Logger exposes the engine's logger for reuse by the reaper.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// LeaseDuration exposes the configured lease duration.
func (e *Engine) LeaseDuration() time.Duration { return e.cfg.LeaseDuration }
