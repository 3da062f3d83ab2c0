package store_test

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"spine"
	"spine/job"
	"spine/store"
)

func newTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "spine-store-test-*")
	if err != nil {
		t.Fatalf("mkdirtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := store.New(dir)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return st, dir
}

func sampleJob(id string) *job.Job {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &job.Job{
		ID:          id,
		Target:      job.TargetAny,
		Status:      job.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   "head",
		MaxAttempts: 3,
		Comments:    []job.Comment{},
	}
}

func TestWriteAtomicThenRead_RoundTrips(t *testing.T) {
	st, _ := newTestStore(t)
	j := sampleJob("abc123")
	j.Spec = "do stuff"

	if err := st.WriteAtomic(j); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	got, err := st.Read("abc123")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.ID != j.ID || got.Spec != j.Spec || got.Status != j.Status {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestRead_MissingRecordIsNotFound(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.Read("nope")
	if !errors.Is(err, spine.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestWriteAtomic_ReplacesExistingRecord(t *testing.T) {
	st, _ := newTestStore(t)
	j := sampleJob("abc123")
	if err := st.WriteAtomic(j); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	j.Status = job.StatusRunning
	j.ClaimedBy = "left-claw"
	lease := j.UpdatedAt.Add(time.Minute)
	j.LeaseUntil = &lease
	if err := st.WriteAtomic(j); err != nil {
		t.Fatalf("WriteAtomic second: %v", err)
	}

	got, err := st.Read("abc123")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Status != job.StatusRunning || got.ClaimedBy != "left-claw" {
		t.Fatalf("got %+v, want running/left-claw", got)
	}
}

func TestList_IgnoresStrayTempFiles(t *testing.T) {
	st, dir := newTestStore(t)
	if err := st.WriteAtomic(sampleJob("real")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	// Simulate a crash mid-write: a stray temp next to the record.
	stray := filepath.Join(dir, "jobs", "real.json.tmp.12345")
	if err := os.WriteFile(stray, []byte("{partial"), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}
	lock := filepath.Join(dir, "jobs", "real.lock")
	if err := os.WriteFile(lock, nil, 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	jobs, err := st.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "real" {
		t.Fatalf("jobs = %+v, want only 'real'", jobs)
	}
}

func TestList_SkipsUnparseableRecords(t *testing.T) {
	st, dir := newTestStore(t)
	if err := st.WriteAtomic(sampleJob("good")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	bad := filepath.Join(dir, "jobs", "bad.json")
	if err := os.WriteFile(bad, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write bad: %v", err)
	}

	jobs, err := st.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "good" {
		t.Fatalf("jobs = %+v, want only 'good'", jobs)
	}
}

func TestAppendEvent_OneLinePerEvent(t *testing.T) {
	st, dir := newTestStore(t)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, typ := range []job.EventType{job.EventCreated, job.EventClaimed, job.EventHeartbeat} {
		ev := job.NewEvent(now.Add(time.Duration(i)*time.Second), typ, "left-claw", nil)
		if err := st.AppendEvent("abc123", ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "events", "abc123.jsonl"))
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	defer f.Close()

	var types []job.EventType
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev job.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		types = append(types, ev.Type)
	}
	want := []job.EventType{job.EventCreated, job.EventClaimed, job.EventHeartbeat}
	if len(types) != len(want) {
		t.Fatalf("types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("types[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestRead_TerminalRecordIsStable(t *testing.T) {
	st, _ := newTestStore(t)
	j := sampleJob("done1")
	j.Status = job.StatusDone
	j.ClaimedBy = "left-claw"
	j.Result = json.RawMessage(`"ok"`)
	if err := st.WriteAtomic(j); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	first, err := st.Read("done1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	second, err := st.Read("done1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("repeated reads differ:\n%s\n%s", a, b)
	}
}
