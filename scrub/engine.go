package scrub

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/umcneuro/cohanon/coh3"
)

// Anonymise rewrites the patient fields of the recording at src
// according to req and writes the result to dst, creating missing
// destination directories. Every byte outside the rewritten header
// slots is copied verbatim and the output length always equals the
// input length.
//
// The output is staged as dst + ".part" in the destination directory
// and renamed into place once fully written, so dst either keeps its
// old content or holds a complete new recording, never a torn one.
// src == dst is allowed and rewrites the recording in place.
//
// Failures come back as *Error with the stage set: StageRead when the
// source cannot be read, StageHeader when it is too short to be a coh3
// recording (nothing is written in that case), and StageWrite when the
// destination directory or file cannot be produced.
func Anonymise(src, dst string, req Request) error {
	data, err := ioutil.ReadFile(src)
	if err != nil {
		return &Error{Stage: StageRead, Path: src, Err: err}
	}
	if len(data) < coh3.HeaderSize {
		return &Error{Stage: StageHeader, Path: src, Err: coh3.ErrShortHeader}
	}

	mode := os.FileMode(0644)
	if fi, err := os.Stat(src); err == nil {
		mode = fi.Mode().Perm()
	}

	destDir := filepath.Dir(dst)
	for _, f := range coh3.Fields() {
		rule := req.resolve(f, destDir)
		switch rule.Action {
		case Unchanged:
			continue
		case Blank:
			err = coh3.PutField(data, f, "")
		case Replace:
			err = coh3.PutField(data, f, rule.Value)
		}
		if err != nil {
			return &Error{Stage: StageHeader, Path: src, Err: err}
		}
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return &Error{Stage: StageWrite, Path: dst, Err: err}
	}
	tmp := dst + ".part"
	if err := ioutil.WriteFile(tmp, data, mode); err != nil {
		os.Remove(tmp)
		return &Error{Stage: StageWrite, Path: dst, Err: err}
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return &Error{Stage: StageWrite, Path: dst, Err: err}
	}
	return nil
}
