// Package store implements the Spine persistence layer: an atomic
// per-job record store and an append-only event log per job, both
// backed by plain files under a configured data directory.
//
// Writes use the temp-file-then-rename pattern so readers never
// observe a partially written record: a crash mid-write leaves either
// the prior record or a stray temp file, and the next write
// supersedes the stray temp. Listing only recognizes canonical
// "<id>.json" names, so stray temps are invisible to it.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"spine"
	"spine/job"
)

// Store is a file-backed implementation of job.Store.
type Store struct {
	jobsDir   string
	eventsDir string
}

// New creates the jobs/, events/, and blobs/ directories under
// dataDir if they do not already exist, and returns a Store rooted
// there. Blob contents are written by the upload surface, not the
// store; the directory is created here so the whole layout appears in
// one place.
func New(dataDir string) (*Store, error) {
	jobsDir := filepath.Join(dataDir, "jobs")
	eventsDir := filepath.Join(dataDir, "events")
	blobsDir := filepath.Join(dataDir, "blobs")

	for _, dir := range []string{jobsDir, eventsDir, blobsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
	}

	return &Store{jobsDir: jobsDir, eventsDir: eventsDir}, nil
}

// JobsDir returns the directory job records are kept in. Used by the
// claim mutex, which co-locates lock files next to job records.
func (s *Store) JobsDir() string { return s.jobsDir }

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.jobsDir, id+".json")
}

func (s *Store) eventLogPath(id string) string {
	return filepath.Join(s.eventsDir, id+".jsonl")
}

// Read returns the job with the given id, or spine.ErrNotFound if no
// record exists.
func (s *Store) Read(id string) (*job.Job, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, spine.ErrNotFound
		}
		return nil, fmt.Errorf("store: read %s: %w", id, err)
	}

	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", id, err)
	}
	return &j, nil
}

// WriteAtomic serializes j and atomically replaces its record file.
// The temp file is created in the same directory as the target so the
// subsequent rename is guaranteed to be on the same filesystem.
func (s *Store) WriteAtomic(j *job.Job) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", j.ID, err)
	}

	target := s.recordPath(j.ID)
	tmp, err := os.CreateTemp(s.jobsDir, j.ID+".json.tmp.*")
	if err != nil {
		return fmt.Errorf("store: create temp for %s: %w", j.ID, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: write temp for %s: %w", j.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close temp for %s: %w", j.ID, err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: rename temp for %s: %w", j.ID, err)
	}

	return nil
}

// AppendEvent appends ev as one JSON line to jobID's event log.
// Concurrent appends from different callers are safe: each append is
// a single write below the OS atomic-write threshold, so lines never
// interleave.
func (s *Store) AppendEvent(jobID string, ev job.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("store: marshal event for %s: %w", jobID, err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.eventLogPath(jobID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open event log for %s: %w", jobID, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("store: append event for %s: %w", jobID, err)
	}
	return nil
}

// List enumerates canonical "<id>.json" record files and returns the
// parsed job for each. Stray "*.json.tmp.*" files are ignored. There
// is no index; this is O(n) in job count.
func (s *Store) List() ([]*job.Job, error) {
	entries, err := os.ReadDir(s.jobsDir)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}

	jobs := make([]*job.Job, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".json") || strings.Contains(name, ".tmp.") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		j, err := s.Read(id)
		if err != nil {
			// Best-effort: skip records that cannot be read or parsed
			// (e.g. a corrupt or hand-edited file).
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

var _ job.Store = (*Store)(nil)
