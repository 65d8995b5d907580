// Package watch turns a drop folder into an anonymising inlet. The
// acquisition stations copy finished recordings into the folder;
// anything landing there is scrubbed into the destination root as soon
// as it stops growing.
package watch

import (
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/umcneuro/cohanon/fileutil"
	"github.com/umcneuro/cohanon/scrub"
)

// DefaultSettle is how long a dropped file must go without events
// before it counts as fully copied in.
const DefaultSettle = 2 * time.Second

// A Watcher anonymises recordings as they land in one folder. Set the
// exported fields between New and Run; they must not change afterward.
type Watcher struct {
	// Dest is the root the anonymised copies are written under. It
	// must be set and must lie outside the watched folder, or Run
	// would be fed its own output.
	Dest string

	// Request is applied to every recording taken from the folder.
	Request scrub.Request

	// Settle overrides DefaultSettle.
	Settle time.Duration

	// Report, when set, is called after each recording is processed,
	// successfully or not. The audit recorder plugs in here.
	Report func(scrub.Result)

	dir      string
	fsw      *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
}

// New starts watching dir. The returned Watcher is idle until Run.
func New(dir string) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(abs); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "watching %s", abs)
	}
	return &Watcher{
		dir:  abs,
		fsw:  fsw,
		stop: make(chan struct{}),
	}, nil
}

// Run processes drops until Stop is called. Recordings are taken one
// at a time, in the order they settle. Files still settling when the
// watcher stops are left in the folder for a later batch run.
func (w *Watcher) Run() error {
	if w.Dest == "" {
		return errors.New("watch: no destination root")
	}
	dest, err := filepath.Abs(w.Dest)
	if err != nil {
		return err
	}
	if dest == w.dir || strings.HasPrefix(dest, w.dir+string(filepath.Separator)) {
		return errors.Errorf("watch: destination %s is inside the watched folder", w.Dest)
	}
	settle := w.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}
	tick := time.NewTicker(settle)
	defer tick.Stop()
	pending := make(map[string]time.Time)
	for {
		select {
		case <-w.stop:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if wanted(ev) {
				pending[ev.Name] = time.Now()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Println("watch:", err)
			raven.CaptureError(err, map[string]string{"folder": w.dir})
		case now := <-tick.C:
			for path, last := range pending {
				if now.Sub(last) < settle {
					continue
				}
				delete(pending, path)
				w.take(path)
			}
		}
	}
}

// Stop ends Run. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.fsw.Close()
	})
}

// wanted reports whether an event is a recording landing in the
// folder. Creates cover files moved in whole, writes cover copies
// still growing.
func wanted(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	return fileutil.IsRecording(ev.Name)
}

func (w *Watcher) take(path string) {
	dest, err := fileutil.MirrorPath(path, w.dir, w.Dest)
	if err == nil {
		err = scrub.Anonymise(path, dest, w.Request)
	}
	if err != nil {
		log.Println("watch:", path, err)
		raven.CaptureError(err, map[string]string{"path": path})
	} else {
		log.Println("watch: anonymised", path, "into", dest)
	}
	if w.Report != nil {
		w.Report(scrub.Result{
			Task: scrub.Task{Source: path, Dest: dest, Request: w.Request},
			Err:  err,
		})
	}
}
