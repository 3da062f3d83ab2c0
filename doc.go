// Spine coordinates a single head and two claw worker roles around a
// file-backed job queue exposed over HTTP.
//
// # Architecture
//
// Five cooperating components, leaves first:
//
//	store   — atomic per-job record store and append-only event log
//	mutex   — per-job, cross-process mutual exclusion via lock files
//	authz   — maps an authenticated role to job visibility/ownership
//	engine  — the job state machine: create/list/get/claim/heartbeat/
//	          complete/fail/release/comment
//	reaper  — periodic sweep that recovers jobs with expired leases
//
// The api package exposes these over HTTP with gin; cmd/spine wires
// configuration, logging, and observability around all of it.
package spine
