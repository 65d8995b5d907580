package audit

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	raven "github.com/getsentry/raven-go"

	"github.com/umcneuro/cohanon/coh3"
	"github.com/umcneuro/cohanon/util"
)

const (
	// DefaultSweepInterval is the gap between successive checks of
	// the same recording.
	DefaultSweepInterval = 180 * 24 * time.Hour

	// idleSleep is how long the sweeper naps when no checks are due.
	idleSleep = time.Hour
)

// A Sweeper works through the scheduled checks, re-reading anonymised
// recordings and comparing their digests against the trail. A mismatch
// means the file changed since it was written, so the sweeper also
// rescans the header and notes any patient fields that now hold text.
//
// Construct with NewSweeper. Start Run in its own goroutine and use
// Stop to halt it.
type Sweeper struct {
	DB       DB
	Interval time.Duration     // gap before the next check of the same file
	Clock    clock.Clock       // defaults to the wall clock
	Rate     *util.RateCounter // optional read throttle

	stop     chan struct{}
	stopOnce sync.Once
}

// NewSweeper returns a sweeper over the given trail with the default
// interval and the wall clock.
func NewSweeper(db DB) *Sweeper {
	return &Sweeper{
		DB:       db,
		Interval: DefaultSweepInterval,
		Clock:    clock.New(),
		stop:     make(chan struct{}),
	}
}

// Run verifies due checks until Stop is called, sleeping when none are
// due.
func (s *Sweeper) Run() {
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if s.Once() {
			continue
		}
		select {
		case <-s.Clock.After(idleSleep):
		case <-s.stop:
			return
		}
	}
}

// Stop halts a running sweep. The current verification finishes first.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Once verifies the next due check, if any, and reports whether one
// was processed.
func (s *Sweeper) Once() bool {
	path := s.DB.NextCheck(s.Clock.Now())
	if path == "" {
		return false
	}
	log.Println("begin check", path)
	status, notes := s.verify(path)
	log.Println("check", status, path)
	if status == CheckMismatch {
		raven.CaptureMessage("audit mismatch", map[string]string{"path": path, "notes": notes})
	}
	err := s.DB.UpdateCheck(path, status, notes)
	if err == nil {
		err = s.DB.SetCheck(path, s.Clock.Now().Add(s.Interval))
	}
	if err != nil {
		log.Println("check", path, err.Error())
		raven.CaptureError(err, map[string]string{"path": path})
	}
	return true
}

// verify compares the file on disk against its most recent trail
// entry and returns the resulting status and notes.
func (s *Sweeper) verify(path string) (string, string) {
	f, err := s.DB.LatestFile(path)
	if err == ErrNoRecord {
		return CheckError, "no trail entry"
	} else if err != nil {
		return CheckError, err.Error()
	}
	if f.MD5 == "" && f.SHA256 == "" {
		return CheckError, "no digests recorded"
	}
	in, err := os.Open(path)
	if err != nil {
		return CheckError, err.Error()
	}
	defer in.Close()
	var r = io.Reader(in)
	if s.Rate != nil {
		r = s.Rate.Wrap(in)
	}
	ok, err := util.VerifyReader(r, f.MD5, f.SHA256)
	if err != nil {
		return CheckError, err.Error()
	}
	if ok {
		return CheckOK, ""
	}
	return CheckMismatch, mismatchNotes(path)
}

// mismatchNotes rescans a changed recording's header and lists the
// patient fields that hold text, since those are the ones that matter
// if the file was swapped for an unscrubbed copy.
func mismatchNotes(path string) string {
	in, err := os.Open(path)
	if err != nil {
		return "digest mismatch"
	}
	defer in.Close()
	hdr := make([]byte, coh3.HeaderSize)
	_, err = io.ReadFull(in, hdr)
	if err != nil {
		return "digest mismatch; header truncated"
	}
	h, err := coh3.ReadHeader(hdr)
	if err != nil {
		return "digest mismatch; header truncated"
	}
	var present []string
	for _, f := range coh3.Fields() {
		if h.Get(f) != "" {
			present = append(present, f.String())
		}
	}
	if len(present) == 0 {
		return "digest mismatch; patient fields blank"
	}
	return "digest mismatch; patient fields present: " + strings.Join(present, ", ")
}
