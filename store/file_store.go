package store

import (
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	raven "github.com/getsentry/raven-go"
)

// FileSystem keeps a store on a local path, usually a mounted export
// share. Keys map directly to files under the root, so a delivered
// dataset looks the same on the share as it did when it was built.
// Files are staged in a scratch directory and only moved under their
// key once fully written, so readers never see half a recording.
type FileSystem struct {
	root string
}

// the subdir files are staged in while being written.
const scratchdir = ".scratch"

var _ Store = &FileSystem{}

// NewFileSystem creates a FileSystem store rooted at the given path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root}
}

// List returns a channel listing the keys of every file in the store.
func (s *FileSystem) List() <-chan string {
	c := make(chan string)
	go func() {
		defer close(c)
		walkTree(c, s.root, "")
	}()
	return c
}

// Walk the tree under root, emitting file keys relative to the store
// root. Only directories are opened and files are only statted, since
// the share may be slow or hanging off a VPN.
func walkTree(out chan<- string, root, prefix string) {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(prefix)))
	if err != nil {
		log.Println(err)
		raven.CaptureError(err, nil)
		return
	}
	defer f.Close()
	for {
		entries, err := f.Readdir(1000)
		if err == io.EOF {
			return
		} else if err != nil {
			// we have no other way of passing this error back
			log.Println(err)
			raven.CaptureError(err, nil)
			return
		}
		for _, e := range entries {
			name := e.Name()
			if prefix == "" && name == scratchdir {
				continue
			}
			if e.IsDir() {
				walkTree(out, root, prefix+name+"/")
				continue
			}
			out <- prefix + name
		}
	}
}

// ListPrefix returns the keys beginning with the given prefix, sorted.
// The prefix is a path fragment, so "site/" lists one delivered tree.
func (s *FileSystem) ListPrefix(prefix string) ([]string, error) {
	// only walk the subtree that can hold the prefix
	var base string
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		base = prefix[:i+1]
	}
	_, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(base)))
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	c := make(chan string)
	go func() {
		defer close(c)
		walkTree(c, s.root, base)
	}()
	var result []string
	for key := range c {
		if strings.HasPrefix(key, prefix) {
			result = append(result, key)
		}
	}
	sort.Strings(result)
	return result, nil
}

// Open returns a reader for the given key along with its size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	err := validKey(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create makes a new entry under the given key and returns a writer to
// fill it. The data lands in the scratch directory first and is moved
// under the key when the writer is closed.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	err := validKey(key)
	if err != nil {
		return nil, err
	}
	target := s.path(key)
	_, err = os.Stat(target)
	if !os.IsNotExist(err) {
		return nil, ErrKeyExists
	}
	err = os.MkdirAll(filepath.Dir(target), 0775)
	if err != nil {
		return nil, err
	}
	scratch := filepath.Join(s.root, scratchdir)
	err = os.MkdirAll(scratch, 0775)
	if err != nil {
		return nil, err
	}
	w, err := ioutil.TempFile(scratch, filepath.Base(target)+".")
	if err != nil {
		return nil, err
	}
	return &moveCloser{WriteCloser: w, source: w.Name(), target: target}, nil
}

// track the staged file so when it is closed, we can move it into place
type moveCloser struct {
	io.WriteCloser
	source string
	target string
}

func (w *moveCloser) Close() error {
	err := w.WriteCloser.Close()
	if err != nil {
		return err
	}
	_, err = os.Stat(w.target)
	if !os.IsNotExist(err) {
		os.Remove(w.source)
		return ErrKeyExists
	}
	return os.Rename(w.source, w.target)
}

// Delete the given key from the store. It is not an error if the key
// doesn't exist.
func (s *FileSystem) Delete(key string) error {
	err := validKey(key)
	if err != nil {
		return err
	}
	err = os.Remove(s.path(key))
	// don't report a missing file as an error
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

func (s *FileSystem) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}
