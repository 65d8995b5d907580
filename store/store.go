// Package store holds the export targets anonymised datasets are
// delivered to. A store is a stream based key-value interface where
// keys are slash separated relative paths, so a delivered dataset
// keeps its folder layout.
//
// The FileSystem store covers export shares mounted locally; S3 covers
// bucket exports. Memory is for tests and dry runs.
package store

import (
	"errors"
	"io"
	"strings"
	"unicode"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store is the basic stream based key-value store. Keys are relative
// slash paths, such as "site/patient/rec.eeg". Entries are immutable
// once written, but may be deleted and then written again.
//
// Open returns a ReadAtCloser instead of a ReadCloser so callers can
// check a delivered header without pulling the whole recording over
// the wire.
type Store interface {
	ROStore
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

// ROStore is the read-only half of a Store. It allows one to list
// contents and to retrieve data.
type ROStore interface {
	List() <-chan string
	ListPrefix(prefix string) ([]string, error)
	Open(key string) (ReadAtCloser, int64, error)
}

var (
	// ErrKeyExists indicates an attempt to create a key which already exists.
	ErrKeyExists = errors.New("key already exists")

	// ErrNotExist means the given key is not in the store.
	ErrNotExist = errors.New("key does not exist")

	// ErrKeyAbsolute means the key is an absolute path.
	ErrKeyAbsolute = errors.New("key is an absolute path")

	// ErrKeyDots means the key steps outside the store with "..".
	ErrKeyDots = errors.New("key contains a dot dot element")

	// ErrKeyBadCharacter means the key is empty or holds a control character.
	ErrKeyBadCharacter = errors.New("key is empty or contains control characters")
)

// validKey checks that key is a relative slash path staying inside the
// store.
func validKey(key string) error {
	if key == "" {
		return ErrKeyBadCharacter
	}
	if strings.HasPrefix(key, "/") {
		return ErrKeyAbsolute
	}
	for _, elem := range strings.Split(key, "/") {
		if elem == ".." {
			return ErrKeyDots
		}
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return ErrKeyBadCharacter
		}
	}
	return nil
}

// NewReader converts a ReaderAt into an io.Reader. It is here as a
// utility to help work with the ReadAtCloser returned by Open.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// reading less than a full buffer is not an error for
		// an io.Reader
		err = nil
	}
	return
}
