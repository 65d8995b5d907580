package audit

import (
	"log"
	"os"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/umcneuro/cohanon/scrub"
	"github.com/umcneuro/cohanon/util"
)

// DefaultCheckAfter is how long after writing a file its first
// re-verification is scheduled.
const DefaultCheckAfter = 30 * 24 * time.Hour

// A Recorder saves the outcome of one anonymisation run to the trail
// as results arrive. Wire Record to the runner's Report callback and
// call Finish once the run is over.
type Recorder struct {
	DB         DB
	CheckAfter time.Duration

	run Run
}

// NewRecorder opens a new run in the trail and returns a recorder that
// tallies results against it.
func NewRecorder(db DB, sourceRoot, destRoot string, workers, total int) (*Recorder, error) {
	rec := &Recorder{
		DB:         db,
		CheckAfter: DefaultCheckAfter,
		run: Run{
			Started:    time.Now(),
			SourceRoot: sourceRoot,
			DestRoot:   destRoot,
			Workers:    workers,
			Total:      total,
			Status:     RunRunning,
		},
	}
	id, err := db.StartRun(rec.run)
	if err != nil {
		return nil, err
	}
	rec.run.ID = id
	return rec, nil
}

// Record saves one file outcome. Written files are hashed and have
// their first re-verification scheduled.
func (rec *Recorder) Record(res scrub.Result) error {
	f := File{
		RunID:     rec.run.ID,
		Source:    res.Task.Source,
		Dest:      res.Task.Dest,
		Processed: time.Now(),
	}
	if res.Err != nil {
		f.Stage = string(scrub.StageOf(res.Err))
		f.Note = res.Err.Error()
		if errors.Is(res.Err, scrub.ErrCancelled) {
			rec.run.Cancelled++
		} else {
			rec.run.Failed++
		}
		return rec.DB.SaveFile(f)
	}
	rec.run.Succeeded++
	in, err := os.Open(res.Task.Dest)
	if err == nil {
		f.MD5, f.SHA256, err = util.HashReader(in)
		in.Close()
	}
	if err != nil {
		// the record is still worth keeping without digests
		log.Println("audit hash", res.Task.Dest, err.Error())
		raven.CaptureError(err, map[string]string{"dest": res.Task.Dest})
	}
	err = rec.DB.SaveFile(f)
	if err != nil {
		return err
	}
	return rec.DB.SetCheck(f.Dest, f.Processed.Add(rec.CheckAfter))
}

// Run returns a snapshot of the run being recorded.
func (rec *Recorder) Run() Run {
	return rec.run
}

// Finish closes out the run, marking it cancelled if asked.
func (rec *Recorder) Finish(cancelled bool) error {
	rec.run.Finished = time.Now()
	rec.run.Status = RunDone
	if cancelled {
		rec.run.Status = RunCancelled
	}
	return rec.DB.FinishRun(rec.run)
}
