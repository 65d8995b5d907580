package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/umcneuro/cohanon/audit"
	"github.com/umcneuro/cohanon/scrub"
)

// Job statuses.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobDone      = "done"
	JobCancelled = "cancelled"
	JobError     = "error"
)

// A Job is one batch anonymisation request moving through the queue.
// Jobs live in memory only; the durable record of what ran is the
// audit trail, reachable through RunID once the job has started.
type Job struct {
	ID         int64         `json:"id"`
	SourceRoot string        `json:"source_root"`
	DestRoot   string        `json:"dest_root"`
	Fields     scrub.Toggles `json:"fields"`
	Convert    bool          `json:"convert"`
	Status     string        `json:"status"`
	Submitted  time.Time     `json:"submitted"`
	Started    time.Time     `json:"started"`
	Finished   time.Time     `json:"finished"`
	Total      int           `json:"total"`
	Done       int           `json:"done"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Cancelled  int           `json:"cancelled"`
	RunID      int64         `json:"run_id"`
	Error      string        `json:"error"`
}

// a jobState pairs the Job snapshot handlers serve with the mutable
// bits only the worker and the cancel handler touch.
type jobState struct {
	m         sync.Mutex
	job       Job
	cancel    chan struct{}
	once      sync.Once
	cancelled bool
}

func (st *jobState) view() Job {
	st.m.Lock()
	defer st.m.Unlock()
	return st.job
}

// start moves a queued job to running. It returns false if the job was
// cancelled while waiting in the queue.
func (st *jobState) start() bool {
	st.m.Lock()
	defer st.m.Unlock()
	if st.job.Status != JobQueued {
		return false
	}
	st.job.Status = JobRunning
	st.job.Started = time.Now()
	return true
}

func (st *jobState) setTotal(n int) {
	st.m.Lock()
	st.job.Total = n
	st.m.Unlock()
}

func (st *jobState) setRunID(id int64) {
	st.m.Lock()
	st.job.RunID = id
	st.m.Unlock()
}

func (st *jobState) bump(res scrub.Result) {
	st.m.Lock()
	st.job.Done++
	switch {
	case res.Err == nil:
		st.job.Succeeded++
	case errors.Is(res.Err, scrub.ErrCancelled):
		st.job.Cancelled++
	default:
		st.job.Failed++
	}
	st.m.Unlock()
}

func (st *jobState) fail(err error) {
	st.m.Lock()
	st.job.Status = JobError
	st.job.Error = err.Error()
	st.job.Finished = time.Now()
	st.m.Unlock()
}

func (st *jobState) finish() {
	st.m.Lock()
	if st.cancelled {
		st.job.Status = JobCancelled
	} else {
		st.job.Status = JobDone
	}
	st.job.Finished = time.Now()
	st.m.Unlock()
}

// requestCancel stops the job wherever it is. A queued job is resolved
// on the spot; a running one gets its cancel channel closed and is
// wound down by the worker. Returns false when the job already ended.
func (st *jobState) requestCancel() bool {
	st.m.Lock()
	defer st.m.Unlock()
	switch st.job.Status {
	case JobQueued:
		st.cancelled = true
		st.job.Status = JobCancelled
		st.job.Finished = time.Now()
		return true
	case JobRunning:
		st.cancelled = true
		st.once.Do(func() { close(st.cancel) })
		return true
	}
	return false
}

func (st *jobState) wasCancelled() bool {
	st.m.Lock()
	defer st.m.Unlock()
	return st.cancelled
}

// jobRegistry hands out ids and keeps every job of this process.
type jobRegistry struct {
	m      sync.Mutex
	nextID int64
	jobs   map[int64]*jobState
}

func (reg *jobRegistry) add(job Job) *jobState {
	reg.m.Lock()
	defer reg.m.Unlock()
	if reg.jobs == nil {
		reg.jobs = make(map[int64]*jobState)
	}
	reg.nextID++
	job.ID = reg.nextID
	job.Status = JobQueued
	job.Submitted = time.Now()
	st := &jobState{job: job, cancel: make(chan struct{})}
	reg.jobs[job.ID] = st
	return st
}

func (reg *jobRegistry) get(id int64) *jobState {
	reg.m.Lock()
	defer reg.m.Unlock()
	return reg.jobs[id]
}

func (reg *jobRegistry) list() []Job {
	reg.m.Lock()
	defer reg.m.Unlock()
	result := make([]Job, 0, len(reg.jobs))
	for _, st := range reg.jobs {
		result = append(result, st.view())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// the number of batch jobs processed at a given time. Two runs
// fighting over the same share only slow each other down.
const MaxConcurrentJobs = 1

// jobRequest is the body of POST /jobs.
type jobRequest struct {
	SourceRoot string        `json:"source_root"`
	DestRoot   string        `json:"dest_root"`
	Fields     scrub.Toggles `json:"fields"`
	Convert    bool          `json:"convert"`
}

// NewJobHandler handles POST /jobs.
func (s *RESTServer) NewJobHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.Paused() {
		w.WriteHeader(503)
		fmt.Fprintln(w, "paused for maintenance")
		return
	}
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}
	if req.SourceRoot == "" {
		w.WriteHeader(400)
		fmt.Fprintln(w, "source_root is required")
		return
	}
	if fi, err := os.Stat(req.SourceRoot); err != nil || !fi.IsDir() {
		w.WriteHeader(400)
		fmt.Fprintf(w, "source_root %s is not a directory\n", req.SourceRoot)
		return
	}
	st := s.jobs.add(Job{
		SourceRoot: req.SourceRoot,
		DestRoot:   req.DestRoot,
		Fields:     req.Fields,
		Convert:    req.Convert,
	})
	job := st.view()
	select {
	case s.jobqueue <- job.ID:
	default:
		st.fail(fmt.Errorf("job queue is full"))
		w.WriteHeader(503)
		fmt.Fprintln(w, "job queue is full")
		return
	}
	w.Header().Set("Location", "/jobs/"+strconv.FormatInt(job.ID, 10))
	w.WriteHeader(202)
	enc := json.NewEncoder(w)
	enc.Encode(job)
}

// ListJobsHandler handles GET /jobs.
func (s *RESTServer) ListJobsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	enc := json.NewEncoder(w)
	enc.Encode(s.jobs.list())
}

// JobHandler handles GET /jobs/:id.
func (s *RESTServer) JobHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	st := s.lookupJob(w, ps)
	if st == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.Encode(st.view())
}

// CancelJobHandler handles POST /jobs/:id/cancel. Tasks already inside
// the worker pool finish; everything waiting is abandoned.
func (s *RESTServer) CancelJobHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	st := s.lookupJob(w, ps)
	if st == nil {
		return
	}
	if !st.requestCancel() {
		w.WriteHeader(409)
		fmt.Fprintln(w, "job has already ended")
		return
	}
	w.WriteHeader(202)
	enc := json.NewEncoder(w)
	enc.Encode(st.view())
}

func (s *RESTServer) lookupJob(w http.ResponseWriter, ps httprouter.Params) *jobState {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, "no such job")
		return nil
	}
	st := s.jobs.get(id)
	if st == nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, "no such job")
	}
	return st
}

func (s *RESTServer) jobWorker() {
	defer s.jobwg.Done()
	for {
		select {
		case <-s.jobcancel:
			return
		case id := <-s.jobqueue:
			if st := s.jobs.get(id); st != nil {
				s.runJob(st)
			}
		}
	}
}

func (s *RESTServer) runJob(st *jobState) {
	if !st.start() {
		return
	}
	job := st.view()
	log.Printf("job %d: anonymising %s", job.ID, job.SourceRoot)

	tasks, err := scrub.Plan(job.SourceRoot, job.DestRoot, job.Fields.Request(), job.Convert)
	if err != nil {
		s.failJob(st, err)
		return
	}
	st.setTotal(len(tasks))

	recorder, err := audit.NewRecorder(s.DB, job.SourceRoot, job.DestRoot, s.Workers, len(tasks))
	if err != nil {
		s.failJob(st, err)
		return
	}
	st.setRunID(recorder.Run().ID)

	runner := scrub.NewRunner(s.Workers)
	runner.Converter = s.Converter
	runner.Overwrite = s.Overwrite
	runner.Report = func(res scrub.Result) {
		if err := recorder.Record(res); err != nil {
			log.Printf("job %d: audit: %s", job.ID, err.Error())
			raven.CaptureError(err, nil)
		}
		st.bump(res)
	}

	// watch for a cancel, from the client or from server shutdown,
	// while the batch is on the pool
	done := make(chan struct{})
	go func() {
		select {
		case <-s.jobcancel:
			st.requestCancel()
			runner.Cancel()
		case <-st.cancel:
			runner.Cancel()
		case <-done:
		}
	}()
	results := runner.Run(tasks)
	close(done)

	// tasks cut off before starting never reach Report; put them on
	// the trail too
	for _, res := range results {
		if errors.Is(res.Err, scrub.ErrCancelled) {
			if err := recorder.Record(res); err != nil {
				log.Printf("job %d: audit: %s", job.ID, err.Error())
			}
			st.bump(res)
		}
	}

	cancelled := st.wasCancelled()
	if err := recorder.Finish(cancelled); err != nil {
		log.Printf("job %d: audit: %s", job.ID, err.Error())
		raven.CaptureError(err, nil)
	}
	st.finish()
	job = st.view()
	log.Printf("job %d: %s, %d of %d succeeded", job.ID, job.Status, job.Succeeded, job.Total)
}

func (s *RESTServer) failJob(st *jobState, err error) {
	st.fail(err)
	log.Printf("job %d: %s", st.view().ID, err.Error())
	raven.CaptureError(err, map[string]string{"source": st.view().SourceRoot})
}
