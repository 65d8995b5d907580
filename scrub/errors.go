package scrub

import (
	"errors"
	"fmt"
)

// A Stage names the part of the per file pipeline that failed. Callers
// use it to decide between skipping the file and aborting the batch.
type Stage string

const (
	// StageRead covers a missing or unreadable source recording.
	StageRead Stage = "read"
	// StageHeader covers a source too short to hold the patient block.
	StageHeader Stage = "header"
	// StageWrite covers destination directory and file failures.
	StageWrite Stage = "write"
	// StageConvert covers failures of the external format converter.
	StageConvert Stage = "convert"
)

// ErrCancelled marks tasks a batch never started because the run was
// cancelled first.
var ErrCancelled = errors.New("scrub: batch cancelled")

// An Error is the failure of one recording at one stage. The wrapped
// cause keeps the original diagnostic for display; Path is the file the
// stage was working on.
type Error struct {
	Stage Stage
	Path  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Stage, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StageOf returns the pipeline stage recorded in err, or the empty
// string if err carries none.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}
