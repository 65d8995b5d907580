package scrub

import (
	"log"
	"os"
	"sync"
	"sync/atomic"

	raven "github.com/getsentry/raven-go"

	"github.com/umcneuro/cohanon/util"
)

// A Converter produces the exchange format copy of an anonymised
// recording. The convert package provides the implementation wrapping
// the vendor executable; tests substitute their own.
type Converter interface {
	Convert(input, output string) error
}

// A Task is one recording through the pipeline: anonymise Source into
// Dest, then, if ConvertDest is set, convert the anonymised output
// there. A Task is processed exactly once and carries no retry state.
type Task struct {
	Source      string
	Dest        string
	Request     Request
	ConvertDest string
}

// A Result reports what happened to one Task. Err is nil on success, an
// *Error for a pipeline failure, or ErrCancelled for tasks the run
// never started.
type Result struct {
	Task Task
	Err  error
}

// A Runner pushes a batch of tasks through a bounded worker pool. Tasks
// are started in slice order, which following the walker's lexical
// order makes run logs and progress numbering reproducible. Completion
// order is whatever the pool produces.
//
// The zero Runner is not usable; get one from NewRunner. A Runner runs
// one batch and is then spent.
type Runner struct {
	// Converter handles ConvertDest tasks. Leave nil to skip
	// conversion even where a task asks for it.
	Converter Converter

	// Overwrite redoes conversions whose output already exists.
	// Existing outputs are otherwise skipped, so interrupted batches
	// can be rerun cheaply.
	Overwrite bool

	// Report, when set, is called once per finished task. Calls are
	// serialised; the callback may call Cancel.
	Report func(Result)

	gate     *util.Gate
	reportmu sync.Mutex
	cancel   sync.Once
	ndone    int32
	total    int32
}

// NewRunner returns a Runner processing up to workers files at once.
func NewRunner(workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{gate: util.NewGate(workers)}
}

// Run processes every task and returns one Result per task, in task
// order. A failed task never stops the batch; after Cancel the
// remaining unstarted tasks finish immediately with ErrCancelled.
func (r *Runner) Run(tasks []Task) []Result {
	atomic.StoreInt32(&r.total, int32(len(tasks)))
	results := make([]Result, len(tasks))
	var wg sync.WaitGroup
	for i := range tasks {
		if !r.gate.Enter() {
			for j := i; j < len(tasks); j++ {
				results[j] = Result{Task: tasks[j], Err: ErrCancelled}
			}
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer r.gate.Leave()
			err := r.process(tasks[i])
			if err != nil {
				raven.CaptureError(err, map[string]string{
					"source": tasks[i].Source,
					"stage":  string(StageOf(err)),
				})
			}
			results[i] = Result{Task: tasks[i], Err: err}
			atomic.AddInt32(&r.ndone, 1)
			if r.Report != nil {
				r.reportmu.Lock()
				r.Report(results[i])
				r.reportmu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	return results
}

// Cancel stops the submission of new tasks. Tasks already running
// finish normally. Safe to call more than once and from any goroutine.
func (r *Runner) Cancel() {
	r.cancel.Do(r.gate.Stop)
}

// Progress returns how many tasks have finished and how many the
// current run holds in total.
func (r *Runner) Progress() (done, total int) {
	return int(atomic.LoadInt32(&r.ndone)), int(atomic.LoadInt32(&r.total))
}

func (r *Runner) process(t Task) error {
	if err := Anonymise(t.Source, t.Dest, t.Request); err != nil {
		return err
	}
	if t.ConvertDest == "" || r.Converter == nil {
		return nil
	}
	if !r.Overwrite {
		if _, err := os.Stat(t.ConvertDest); err == nil {
			log.Printf("conversion exists, skipping %s", t.ConvertDest)
			return nil
		}
	}
	if err := r.Converter.Convert(t.Dest, t.ConvertDest); err != nil {
		return &Error{Stage: StageConvert, Path: t.Dest, Err: err}
	}
	return nil
}
