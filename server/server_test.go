package server

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/umcneuro/cohanon/audit"
	"github.com/umcneuro/cohanon/coh3"
)

func TestWelcome(t *testing.T) {
	text := getbody(t, "GET", "/", 200)
	if !strings.HasPrefix(text, "Cohanon") {
		t.Fatalf("Received %#v", text)
	}
}

func TestFields(t *testing.T) {
	text := getbody(t, "GET", "/fields", 200)
	var fields []struct {
		Name   string `json:"name"`
		Offset int    `json:"offset"`
		Width  int    `json:"width"`
	}
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	if len(fields) != len(coh3.Fields()) {
		t.Fatalf("Received %d fields", len(fields))
	}
	if fields[0].Name != "name" || fields[0].Width == 0 {
		t.Errorf("Received %+v", fields[0])
	}
}

func TestJobLifecycle(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "out")
	writeRecording(t, filepath.Join(src, "P001_1.eeg"), map[coh3.Field]string{
		coh3.Name:    "Doe",
		coh3.Surname: "John",
	})
	writeRecording(t, filepath.Join(src, "P002_1.eeg"), nil)

	// bad submissions
	checkStatus(t, "POST", "/jobs", 400, `{"dest_root":"`+dest+`"}`)
	checkStatus(t, "POST", "/jobs", 400, `{"source_root":"`+filepath.Join(src, "nothere")+`"}`)
	checkStatus(t, "GET", "/jobs/999", 404, "")
	checkStatus(t, "POST", "/jobs/999/cancel", 404, "")

	loc := postjob(t, `{"source_root":"`+jsonpath(src)+`","dest_root":"`+jsonpath(dest)+`","fields":{"redact_all":true}}`)
	t.Log("job at", loc)
	job := waitJob(t, loc)
	if job.Status != JobDone {
		t.Fatalf("Received status %s, expected done", job.Status)
	}
	if job.Total != 2 || job.Succeeded != 2 || job.Failed != 0 {
		t.Errorf("Received %+v", job)
	}
	if job.RunID == 0 {
		t.Errorf("Job has no run id")
	}

	// the outputs are scrubbed
	out := filepath.Join(dest, "P001_1.eeg")
	data, err := ioutil.ReadFile(out)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	h, err := coh3.ReadHeader(data)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	if h.Get(coh3.Name) != "" || h.Get(coh3.Surname) != "" {
		t.Errorf("Output kept patient fields %q %q", h.Get(coh3.Name), h.Get(coh3.Surname))
	}

	// the job shows up in the list
	var jobs []Job
	mustDecode(t, getbody(t, "GET", "/jobs", 200), &jobs)
	if len(jobs) == 0 {
		t.Errorf("Received no jobs")
	}

	// and the trail has the run
	var runs []audit.Run
	mustDecode(t, getbody(t, "GET", "/runs", 200), &runs)
	run := findRun(t, runs, job.RunID)
	if run.Status != audit.RunDone || run.Succeeded != 2 {
		t.Errorf("Received run %+v", run)
	}
	if run.SourceRoot != src {
		t.Errorf("Received run source %s, expected %s", run.SourceRoot, src)
	}

	var files []audit.File
	mustDecode(t, getbody(t, "GET", "/runs/"+itoa(job.RunID)+"/files", 200), &files)
	if len(files) != 2 {
		t.Fatalf("Received %d file rows, expected 2", len(files))
	}
	for _, f := range files {
		if len(f.MD5) != 32 || len(f.SHA256) != 64 {
			t.Errorf("File row %s has digests %q %q", f.Dest, f.MD5, f.SHA256)
		}
	}

	// each output is on the check schedule
	var checks []audit.Check
	mustDecode(t, getbody(t, "GET", "/checks?path="+out, 200), &checks)
	if len(checks) != 1 || checks[0].Status != audit.CheckScheduled {
		t.Errorf("Received checks %+v", checks)
	}

	checkStatus(t, "GET", "/runs?limit=x", 400, "")
}

func TestJobCancel(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "out")
	for i := 0; i < 10; i++ {
		writeRecording(t, filepath.Join(src, "R00"+itoa(int64(i))+"_1.eeg"), nil)
	}

	// conversion makes each task slow enough to cancel mid-run
	loc := postjob(t, `{"source_root":"`+jsonpath(src)+`","dest_root":"`+jsonpath(dest)+`","convert":true}`)
	waitRunning(t, loc)
	checkStatus(t, "POST", loc+"/cancel", 202, "")

	job := waitJob(t, loc)
	if job.Status != JobCancelled {
		t.Fatalf("Received status %s, expected cancelled", job.Status)
	}
	if job.Succeeded+job.Failed+job.Cancelled != job.Total {
		t.Errorf("Counts do not add up: %+v", job)
	}
	if job.Cancelled == 0 {
		t.Errorf("No tasks were cancelled: %+v", job)
	}

	// cancelling a finished job is refused
	checkStatus(t, "POST", loc+"/cancel", 409, "")

	// the trail agrees
	var runs []audit.Run
	mustDecode(t, getbody(t, "GET", "/runs", 200), &runs)
	run := findRun(t, runs, job.RunID)
	if run.Status != audit.RunCancelled {
		t.Errorf("Received run status %s, expected cancelled", run.Status)
	}
	if run.Cancelled != job.Cancelled {
		t.Errorf("Run cancelled %d, job cancelled %d", run.Cancelled, job.Cancelled)
	}
}

func TestAuthz(t *testing.T) {
	dec, err := NewListDecoderString(`
reader   read   tok-r
loader   submit tok-s
`)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	s := &RESTServer{QLPath: "memory", DisableSweep: true, Validator: dec}
	if err := s.setup(); err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	srv := httptest.NewServer(s.addRoutes())
	defer srv.Close()

	var table = []struct {
		verb   string
		route  string
		token  string
		status int
	}{
		{"GET", "/", "", 200},
		{"GET", "/runs", "", 401},
		{"GET", "/runs", "tok-bad", 401},
		{"GET", "/runs", "tok-r", 200},
		{"POST", "/jobs", "tok-r", 401},
		{"POST", "/jobs", "tok-s", 400}, // authorized, but the empty body is rejected
		{"PUT", "/admin/pause/on", "tok-s", 401},
	}
	for _, tab := range table {
		t.Logf("%v", tab)
		req, err := http.NewRequest(tab.verb, srv.URL+tab.route, nil)
		if err != nil {
			t.Fatalf("Received %s", err.Error())
		}
		if tab.token != "" {
			req.Header.Set("X-Api-Key", tab.token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Received %s", err.Error())
		}
		if resp.StatusCode != tab.status {
			t.Errorf("%s %s: received status %d, expected %d",
				tab.verb, tab.route, resp.StatusCode, tab.status)
		}
		resp.Body.Close()
	}
}

// test helpers

func postjob(t *testing.T, body string) string {
	resp := checkRoute(t, "POST", "/jobs", 202, body)
	if resp == nil {
		t.Fatalf("No response for job submission")
	}
	defer resp.Body.Close()
	loc := resp.Header.Get("Location")
	if loc == "" {
		t.Fatalf("Job submission returned no Location")
	}
	return loc
}

func waitRunning(t *testing.T, loc string) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var job Job
		mustDecode(t, getbody(t, "GET", loc, 200), &job)
		switch job.Status {
		case JobRunning:
			return
		case JobDone, JobCancelled, JobError:
			t.Fatalf("Job at %s ended as %s before it could be caught running", loc, job.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Job at %s never started", loc)
}

func waitJob(t *testing.T, loc string) Job {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var job Job
		mustDecode(t, getbody(t, "GET", loc, 200), &job)
		switch job.Status {
		case JobDone, JobCancelled, JobError:
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Job at %s did not finish", loc)
	return Job{}
}

func findRun(t *testing.T, runs []audit.Run, id int64) audit.Run {
	for _, r := range runs {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("No run %d in %+v", id, runs)
	return audit.Run{}
}

func mustDecode(t *testing.T, text string, val interface{}) {
	if err := json.Unmarshal([]byte(text), val); err != nil {
		t.Fatalf("Received %s decoding %s", err.Error(), text)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func jsonpath(p string) string {
	return strings.ReplaceAll(p, `\`, `\\`)
}

func getbody(t *testing.T, verb, route string, expstatus int) string {
	resp := checkRoute(t, verb, route, expstatus, "")
	if resp != nil {
		body, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(route, err)
		}
		resp.Body.Close()
		return string(body)
	}
	return ""
}

func checkStatus(t *testing.T, verb, route string, expstatus int, body string) {
	resp := checkRoute(t, verb, route, expstatus, body)
	if resp != nil {
		resp.Body.Close()
	}
}

func checkRoute(t *testing.T, verb, route string, expstatus int, body string) *http.Response {
	var rdr *strings.Reader = strings.NewReader(body)
	req, err := http.NewRequest(verb, testServer.URL+route, rdr)
	if err != nil {
		t.Fatal("Problem creating request", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(route, err)
		return nil
	}
	if resp.StatusCode != expstatus {
		t.Errorf("%s: Expected status %d and received %d",
			route,
			expstatus,
			resp.StatusCode)
		resp.Body.Close()
		return nil
	}
	return resp
}

func writeRecording(t *testing.T, path string, fields map[coh3.Field]string) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	data := make([]byte, coh3.HeaderSize)
	for i := range data {
		data[i] = byte(i%251 + 1)
	}
	for _, f := range coh3.Fields() {
		if err := coh3.PutField(data, f, fields[f]); err != nil {
			t.Fatalf("Received %s", err.Error())
		}
	}
	data = append(data, []byte("signal data")...)
	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Received %s", err.Error())
	}
}

// slowConverter stands in for the vendor tool. The sleep keeps batches
// on the pool long enough for the cancel tests to catch them.
type slowConverter struct{}

func (slowConverter) Convert(input, output string) error {
	time.Sleep(50 * time.Millisecond)
	return ioutil.WriteFile(output, []byte("exchange copy"), 0644)
}

var testServer *httptest.Server

func init() {
	s := &RESTServer{
		QLPath:       "memory",
		Workers:      2,
		Converter:    slowConverter{},
		DisableSweep: true,
	}
	if err := s.setup(); err != nil {
		panic(err)
	}
	testServer = httptest.NewServer(s.addRoutes())
}
