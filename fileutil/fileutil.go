// Package fileutil finds recordings for batch runs and derives where
// their anonymised copies go.
package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot means a source path is not below the source root, so no
// mirrored destination exists for it.
var ErrOutsideRoot = errors.New("fileutil: path not under the source root")

// IsRecording reports whether path names a Coherence recording. The
// extension match is case insensitive; recordings come off the
// acquisition machines as both ".eeg" and ".EEG".
func IsRecording(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".eeg")
}

// ListRecordings walks root and returns the absolute path of every
// recording below it. filepath.Walk visits entries in lexical order, so
// two walks of an unchanged tree return identical lists, which keeps
// batch numbering and progress reproducible between runs. Directories
// whose name starts with '.' are not entered.
func ListRecordings(root string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	var result []string
	err = filepath.Walk(abs, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if p != abs && strings.HasPrefix(filepath.Base(p), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsRecording(p) {
			result = append(result, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MirrorPath maps src, which must be below srcRoot, onto the same
// relative position under destRoot. An empty destRoot returns src
// itself, making the rewrite happen in place.
func MirrorPath(src, srcRoot, destRoot string) (string, error) {
	if destRoot == "" {
		return src, nil
	}
	rel, err := filepath.Rel(srcRoot, src)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return filepath.Join(destRoot, rel), nil
}

// SameRoot reports whether a and b resolve to the same directory. Batch
// callers use this to warn before an in place run.
func SameRoot(a, b string) bool {
	absa, err := filepath.Abs(a)
	if err != nil {
		absa = filepath.Clean(a)
	}
	absb, err := filepath.Abs(b)
	if err != nil {
		absb = filepath.Clean(b)
	}
	return absa == absb
}
