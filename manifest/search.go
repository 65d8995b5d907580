package manifest

import (
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	raven "github.com/getsentry/raven-go"

	"github.com/umcneuro/cohanon/fileutil"
	"github.com/umcneuro/cohanon/util"
)

// A Search holds the recordings found under each source root. Roots
// keep the order they were given in, which ranks them: operators list
// the fast local share before the slow archive mounts.
type Search struct {
	sources []sourceList
}

type sourceList struct {
	root  string
	files []string
}

// NewSearch lists the recordings under every root, walking at most n
// roots at a time. A root that cannot be walked is logged and treated
// as empty, so one unmounted share does not sink the whole export.
func NewSearch(roots []string, n int) *Search {
	if n < 1 {
		n = 1
	}
	result := &Search{sources: make([]sourceList, len(roots))}
	gate := util.NewGate(n)
	var wg sync.WaitGroup
	for i, root := range roots {
		wg.Add(1)
		go func(i int, root string) {
			defer wg.Done()
			if !gate.Enter() {
				return
			}
			defer gate.Leave()
			files, err := fileutil.ListRecordings(root)
			if err != nil {
				log.Println("list source", root, err)
				raven.CaptureError(err, map[string]string{"root": root})
			}
			result.sources[i] = sourceList{root: root, files: files}
		}(i, root)
	}
	wg.Wait()
	return result
}

// Find returns every part of the named recording. Coherence splits
// long recordings into files sharing a stem, "P0012345_1.eeg" and up,
// so a match is any file whose base name continues the stem with an
// underscore. Only the first root holding any part is searched; the
// same recording lingering on a slower share is assumed stale.
func (s *Search) Find(stem string) []string {
	prefix := stem + "_"
	for _, src := range s.sources {
		var matches []string
		for _, f := range src.files {
			if strings.HasPrefix(filepath.Base(f), prefix) {
				matches = append(matches, f)
			}
		}
		if len(matches) > 0 {
			return matches
		}
	}
	return nil
}

// Parts groups matches by base name and picks one path per part. The
// archive keeps its canonical copy under "L<first 4>/EEG2"; when a
// part also turns up elsewhere, say a technician's scratch folder, the
// canonical copy wins. Part names come back sorted.
func Parts(stem string, matches []string) []string {
	byName := make(map[string][]string)
	var names []string
	for _, m := range matches {
		base := filepath.Base(m)
		if _, seen := byName[base]; !seen {
			names = append(names, base)
		}
		byName[base] = append(byName[base], m)
	}
	sort.Strings(names)
	marker := siteMarker(stem)
	result := make([]string, 0, len(names))
	for _, name := range names {
		result = append(result, pickCopy(byName[name], marker))
	}
	return result
}

// siteMarker is the path fragment of a recording's canonical archive
// folder, derived from the first four characters of its stem.
func siteMarker(stem string) string {
	if len(stem) > 4 {
		stem = stem[:4]
	}
	return "L" + stem + "/EEG2"
}

func pickCopy(candidates []string, marker string) string {
	for _, c := range candidates {
		if strings.Contains(filepath.ToSlash(c), marker) {
			return c
		}
	}
	return candidates[0]
}
