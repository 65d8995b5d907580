package scrub

import (
	"path/filepath"

	"github.com/umcneuro/cohanon/convert"
	"github.com/umcneuro/cohanon/fileutil"
)

// Plan walks srcRoot and builds one Task per recording under it, in the
// walker's deterministic order. Destinations mirror each recording's
// position relative to srcRoot under destRoot; an empty destRoot plans
// an in place run. With withConvert, each task also gets the default
// conversion output next to its destination.
func Plan(srcRoot, destRoot string, req Request, withConvert bool) ([]Task, error) {
	files, err := fileutil.ListRecordings(srcRoot)
	if err != nil {
		return nil, &Error{Stage: StageRead, Path: srcRoot, Err: err}
	}
	abs, err := filepath.Abs(srcRoot)
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(files))
	for _, f := range files {
		dst, err := fileutil.MirrorPath(f, abs, destRoot)
		if err != nil {
			return nil, err
		}
		t := Task{Source: f, Dest: dst, Request: req}
		if withConvert {
			t.ConvertDest = convert.DefaultOutput(dst)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// InPlace reports whether a run over these roots rewrites recordings
// where they are. Callers should warn before starting such a run: the
// originals are gone once it finishes.
func InPlace(srcRoot, destRoot string) bool {
	return destRoot == "" || fileutil.SameRoot(srcRoot, destRoot)
}
