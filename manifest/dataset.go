package manifest

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/umcneuro/cohanon/scrub"
	"github.com/umcneuro/cohanon/store"
)

// A Plan is a worklist resolved against the archive: the tasks to run
// and the stems no source had. Tasks keep worklist order, with a
// recording's parts sorted by name.
type Plan struct {
	Tasks   []scrub.Task
	Missing []string
}

// BuildPlan locates every worklist entry in s and lays the dataset out
// under destRoot. Each part of a recording lands at
// destRoot/<entry folder>/<part name>, carrying req for the scrubbing
// pass. Entries with no match anywhere are collected in Missing and
// logged, and do not fail the plan; a study can decide itself whether
// a hole is acceptable.
func BuildPlan(w Worklist, s *Search, destRoot string, req scrub.Request) Plan {
	var plan Plan
	for _, e := range w.Entries {
		matches := s.Find(e.Stem)
		if len(matches) == 0 {
			log.Printf("recording %s: not found under any source", e.Stem)
			plan.Missing = append(plan.Missing, e.Stem)
			continue
		}
		parts := Parts(e.Stem, matches)
		if len(parts) > 1 {
			log.Printf("recording %s: %d parts", e.Stem, len(parts))
		}
		for _, part := range parts {
			plan.Tasks = append(plan.Tasks, scrub.Task{
				Source:  part,
				Dest:    filepath.Join(destRoot, filepath.FromSlash(e.Dest), filepath.Base(part)),
				Request: req,
			})
		}
	}
	return plan
}

// Deliver copies the finished dataset tree under root into s, keyed by
// slash separated path relative to root. Keys already present are
// skipped, so a delivery interrupted halfway can simply be rerun. It
// returns how many files were uploaded.
func Deliver(s store.Store, root string) (int, error) {
	var count int
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if err := deliverFile(s, key, p); err != nil {
			if errors.Is(err, store.ErrKeyExists) {
				log.Println("deliver: already present", key)
				return nil
			}
			return errors.Wrapf(err, "delivering %s", key)
		}
		count++
		return nil
	})
	return count, err
}

func deliverFile(s store.Store, key, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := s.Create(key)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}
