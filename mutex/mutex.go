// Package mutex implements the per-job Claim Mutex: a filesystem
// exclusive-create lock file co-located with the job record, safe
// against concurrent callers within one process and across processes
// sharing the data directory.
//
// Holding the lock is expected to last milliseconds: one read, one
// write, and one event append. Stale lock files left by a crashed
// process are a known limitation; operators clear them manually.
package mutex

import (
	"fmt"
	"os"
	"path/filepath"

	"spine"
)

// FileMutex grants exclusive per-job locks backed by "<id>.lock" files
// in dir.
type FileMutex struct {
	dir string
}

// New returns a FileMutex that creates lock files in dir (the same
// directory job records live in).
func New(dir string) *FileMutex {
	return &FileMutex{dir: dir}
}

func (m *FileMutex) lockPath(id string) string {
	return filepath.Join(m.dir, id+".lock")
}

// Lock attempts to exclusively create the lock file for id. On
// success it returns an unlock function that removes the lock file;
// callers must defer it on every exit path. If the lock file already
// exists it returns spine.ErrLocked; any other creation failure is
// returned wrapped.
func (m *FileMutex) Lock(id string) (unlock func(), err error) {
	path := m.lockPath(id)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, spine.ErrLocked
		}
		return nil, fmt.Errorf("mutex: create lock for %s: %w", id, err)
	}
	f.Close()

	return func() {
		os.Remove(path)
	}, nil
}

// WithLock acquires the lock for id, runs fn, and releases the lock
// regardless of how fn returns (success, error, or panic).
func (m *FileMutex) WithLock(id string, fn func() error) error {
	unlock, err := m.Lock(id)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}
