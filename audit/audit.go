// Package audit keeps the history of anonymisation runs and schedules
// the periodic re-verification of their outputs.
//
// Every batch run is recorded with one row per recording: where it came
// from, where it went, how it ended, and the digests of the output.
// Outputs are then put on a check schedule; the Sweeper works through
// due checks in the background, verifying that each anonymised file on
// disk is still byte for byte the file that was written, and flags the
// ones that are not. A mismatch in a clinical share is someone editing
// or replacing an anonymised recording, which is exactly what the trail
// exists to catch.
//
// Two backends are provided: an embedded QL database for single host
// installs, and MySQL for sites that want the trail on a central
// server.
package audit

import (
	"errors"
	"time"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunDone      = "done"
	RunCancelled = "cancelled"
)

// Check statuses.
const (
	CheckScheduled = "scheduled"
	CheckOK        = "ok"
	CheckMismatch  = "mismatch"
	CheckError     = "error"
)

// ErrNoRecord is returned by lookups that find nothing.
var ErrNoRecord = errors.New("audit: no record")

// A Run is one batch invocation.
type Run struct {
	ID         int64     `json:"id"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"` // zero while the run is still going
	SourceRoot string    `json:"source_root"`
	DestRoot   string    `json:"dest_root"`
	Workers    int       `json:"workers"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Cancelled  int       `json:"cancelled"`
	Status     string    `json:"status"`
}

// A File is the outcome of one recording inside a run. Stage is empty
// on success and otherwise names the pipeline stage that failed; Note
// keeps the error text. MD5 and SHA256 are hex digests of the written
// output, empty when nothing was written.
type File struct {
	RunID     int64     `json:"run_id"`
	Source    string    `json:"source"`
	Dest      string    `json:"dest"`
	Stage     string    `json:"stage"`
	Note      string    `json:"note"`
	MD5       string    `json:"md5"`
	SHA256    string    `json:"sha256"`
	Processed time.Time `json:"processed"`
}

// A Check is one entry on the verification schedule, either still
// scheduled or resolved with an outcome.
type Check struct {
	ID        int64     `json:"id"`
	Path      string    `json:"path"`
	Scheduled time.Time `json:"scheduled"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes"`
}

// DB is the audit trail storage. Implementations must be safe for use
// from multiple goroutines.
type DB interface {
	// StartRun records a new run and returns its id.
	StartRun(r Run) (int64, error)
	// FinishRun fills in the end state of run r.ID.
	FinishRun(r Run) error
	// SaveFile appends one per recording outcome.
	SaveFile(f File) error
	// Runs returns the most recent runs, newest first.
	Runs(limit int) ([]Run, error)
	// Files returns the outcomes of one run in processing order.
	Files(runID int64) ([]File, error)
	// LatestFile returns the newest outcome row for the given
	// destination path, or ErrNoRecord.
	LatestFile(dest string) (File, error)

	// NextCheck returns a path whose check is due at or before
	// cutoff, or "" when none is.
	NextCheck(cutoff time.Time) string
	// UpdateCheck resolves the earliest scheduled check for path.
	UpdateCheck(path, status, notes string) error
	// SetCheck schedules a verification of path at when.
	SetCheck(path string, when time.Time) error
	// LookupCheck returns the earliest scheduled check time for
	// path, or the zero time if none is scheduled.
	LookupCheck(path string) (time.Time, error)
	// SearchChecks returns the check history for path, oldest
	// first. An empty path returns everything.
	SearchChecks(path string) ([]Check, error)
}
