package watch

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/umcneuro/cohanon/coh3"
	"github.com/umcneuro/cohanon/scrub"
)

func TestWanted(t *testing.T) {
	var table = []struct {
		name string
		op   fsnotify.Op
		want bool
	}{
		{"rec_1.eeg", fsnotify.Create, true},
		{"REC_2.EEG", fsnotify.Write, true},
		{"notes.txt", fsnotify.Create, false},
		{"rec_1.eeg", fsnotify.Remove, false},
		{"rec_1.eeg", fsnotify.Chmod, false},
		{"rec_1.eeg", fsnotify.Rename, false},
	}
	for _, tab := range table {
		t.Logf("%v", tab)
		ev := fsnotify.Event{Name: tab.name, Op: tab.op}
		if wanted(ev) != tab.want {
			t.Errorf("wanted(%v) == %v", ev, !tab.want)
		}
	}
}

func TestWatcherTakes(t *testing.T) {
	drop := t.TempDir()
	dest := t.TempDir()
	w, err := New(drop)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	w.Dest = dest
	w.Request = scrub.Request{RedactAll: true}
	w.Settle = 50 * time.Millisecond
	results := make(chan scrub.Result, 4)
	w.Report = func(r scrub.Result) { results <- r }
	done := make(chan error, 1)
	go func() { done <- w.Run() }()
	defer w.Stop()

	writeRecording(t, filepath.Join(drop, "P001_1.eeg"), map[coh3.Field]string{
		coh3.Name:    "Doe",
		coh3.Surname: "John",
	})
	if err := ioutil.WriteFile(filepath.Join(drop, "notes.txt"), []byte("not a recording"), 0644); err != nil {
		t.Fatalf("Received %s", err.Error())
	}

	r := waitResult(t, results)
	if r.Err != nil {
		t.Fatalf("Received %s", r.Err.Error())
	}
	if r.Task.Dest != filepath.Join(dest, "P001_1.eeg") {
		t.Errorf("Received dest %s", r.Task.Dest)
	}
	data, err := ioutil.ReadFile(r.Task.Dest)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	h, err := coh3.ReadHeader(data)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	if h.Get(coh3.Name) != "" || h.Get(coh3.Surname) != "" {
		t.Errorf("Copy kept patient fields %q %q", h.Get(coh3.Name), h.Get(coh3.Surname))
	}
	if _, err := os.Stat(filepath.Join(dest, "notes.txt")); !os.IsNotExist(err) {
		t.Errorf("The text file was taken")
	}

	writeRecording(t, filepath.Join(drop, "P002_1.eeg"), nil)
	r = waitResult(t, results)
	if r.Err != nil || r.Task.Dest != filepath.Join(dest, "P002_1.eeg") {
		t.Errorf("Second drop: received %+v", r)
	}

	w.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %s", err.Error())
		}
	case <-time.After(2 * time.Second):
		t.Errorf("Run did not return after Stop")
	}
}

func TestWatcherGuards(t *testing.T) {
	drop := t.TempDir()

	if _, err := New(filepath.Join(drop, "nothere")); err == nil {
		t.Errorf("New on a missing folder returned nil")
	}

	w, err := New(drop)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	defer w.Stop()
	if err := w.Run(); err == nil {
		t.Errorf("Run with no destination returned nil")
	}
	w.Dest = filepath.Join(drop, "out")
	if err := w.Run(); err == nil {
		t.Errorf("Run with the destination inside the folder returned nil")
	}
}

func waitResult(t *testing.T, results chan scrub.Result) scrub.Result {
	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("No result arrived")
	}
	return scrub.Result{}
}

func writeRecording(t *testing.T, path string, fields map[coh3.Field]string) {
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
