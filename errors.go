package spine

import "errors"

// Sentinel errors of the Spine error taxonomy. The engine returns all
// of them except ErrUnauthorized, and the api package maps each one the
// engine returns to an HTTP status code and machine-readable
// discriminator. ErrUnauthorized is not returned by the engine: the
// api package's authentication middleware answers 401 "unauthorized"
// itself, before any engine call.
var (
	// ErrNotFound means the referenced job id does not exist.
	ErrNotFound = errors.New("spine: job not found")

	// ErrUnauthorized means the request carried no token, or a token
	// that does not resolve to a known role.
	ErrUnauthorized = errors.New("spine: unauthorized")

	// ErrForbidden means the authenticated role is not allowed to
	// observe or act on this job (target mismatch).
	ErrForbidden = errors.New("spine: forbidden")

	// ErrNotOwner means the role is authorized for the job's target
	// but is not the current claimant and is not head.
	ErrNotOwner = errors.New("spine: not owner")

	// ErrLocked means the claim mutex for this job could not be
	// acquired because another operation holds it.
	ErrLocked = errors.New("spine: locked")

	// ErrAlreadyClaimed means the job is running under a lease that
	// has not yet expired, or has expired but the reaper has not yet
	// reclaimed it. Callers retry after the next sweep.
	ErrAlreadyClaimed = errors.New("spine: already claimed")

	// ErrTerminalStatus means the job is done, failed, or dead, and no
	// further transitions are permitted.
	ErrTerminalStatus = errors.New("spine: terminal status")

	// ErrMaxAttemptsReached means attempts has reached maxAttempts;
	// the job has been moved to dead.
	ErrMaxAttemptsReached = errors.New("spine: max attempts reached")

	// ErrNotRunning means an operation that requires status=running
	// (heartbeat, complete, fail, release) was attempted on a job in
	// some other status.
	ErrNotRunning = errors.New("spine: not running")
)
