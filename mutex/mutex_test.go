package mutex_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"spine"
	"spine/mutex"
)

func newTestMutex(t *testing.T) (*mutex.FileMutex, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "spine-mutex-test-*")
	if err != nil {
		t.Fatalf("mkdirtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return mutex.New(dir), dir
}

func TestLock_SecondAcquireIsLocked(t *testing.T) {
	m, _ := newTestMutex(t)

	unlock, err := m.Lock("j1")
	if err != nil {
		t.Fatalf("first Lock: %v", err)
	}

	if _, err := m.Lock("j1"); !errors.Is(err, spine.ErrLocked) {
		t.Fatalf("second Lock err = %v, want ErrLocked", err)
	}

	unlock()
	unlock2, err := m.Lock("j1")
	if err != nil {
		t.Fatalf("Lock after unlock: %v", err)
	}
	unlock2()
}

func TestLock_DistinctIDsIndependent(t *testing.T) {
	m, _ := newTestMutex(t)

	u1, err := m.Lock("j1")
	if err != nil {
		t.Fatalf("Lock j1: %v", err)
	}
	defer u1()

	u2, err := m.Lock("j2")
	if err != nil {
		t.Fatalf("Lock j2: %v", err)
	}
	u2()
}

func TestUnlock_RemovesLockFile(t *testing.T) {
	m, dir := newTestMutex(t)

	unlock, err := m.Lock("j1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	path := filepath.Join(dir, "j1.lock")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file missing while held: %v", err)
	}

	unlock()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lock file still present after unlock")
	}
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	m, _ := newTestMutex(t)

	boom := errors.New("boom")
	if err := m.WithLock("j1", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	// The lock must be free again even though fn failed.
	if err := m.WithLock("j1", func() error { return nil }); err != nil {
		t.Fatalf("relock after error: %v", err)
	}
}

func TestLock_AtMostOneWinnerUnderContention(t *testing.T) {
	m, _ := newTestMutex(t)

	const callers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	// Nobody unlocks, so exactly one attempt can ever succeed no
	// matter how the goroutines interleave.
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := m.Lock("contested"); err == nil {
				wins.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins.Load())
	}
}
