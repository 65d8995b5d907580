package store

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Memory implements an in-memory version of a store. It backs tests
// and dry run deliveries, where the point is to see what would have
// been written.
type Memory struct {
	m     sync.RWMutex
	store map[string]*buf
}

var _ Store = &Memory{}

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string]*buf)}
}

// List returns a channel giving the key of every entry in the store.
func (ms *Memory) List() <-chan string {
	c := make(chan string)
	go func() {
		ms.m.RLock()
		for k := range ms.store {
			ms.m.RUnlock()
			c <- k
			ms.m.RLock()
		}
		ms.m.RUnlock()
		close(c)
	}()
	return c
}

// ListPrefix returns the keys beginning with the given prefix, sorted.
func (ms *Memory) ListPrefix(prefix string) ([]string, error) {
	var result []string
	ms.m.RLock()
	for k := range ms.store {
		if strings.HasPrefix(k, prefix) {
			result = append(result, k)
		}
	}
	ms.m.RUnlock()
	sort.Strings(result)
	return result, nil
}

// Open returns a ReadAtCloser and the size of the given entry.
func (ms *Memory) Open(key string) (ReadAtCloser, int64, error) {
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, ErrNotExist
	}
	v.m.RLock()
	return v, int64(len(v.b)), nil
}

// A buf is locked for writing from Create until the writer is closed,
// and read locked while open for reading. The same Close serves both,
// so a flag remembers which unlock to use.
type buf struct {
	m       sync.RWMutex
	iswrite bool
	b       []byte
}

func (r *buf) Close() error {
	if r.iswrite {
		r.iswrite = false
		r.m.Unlock()
	} else {
		r.m.RUnlock()
	}
	return nil
}

func (r *buf) ReadAt(p []byte, off int64) (int, error) {
	if int(off) >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[off:])
	return n, nil
}

func (r *buf) Write(p []byte) (int, error) {
	r.b = append(r.b, p...)
	return len(p), nil
}

// Create makes a new entry in the store and returns a writer to fill
// it.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	err := validKey(key)
	if err != nil {
		return nil, err
	}
	ms.m.Lock()
	defer ms.m.Unlock()
	if _, ok := ms.store[key]; ok {
		return nil, ErrKeyExists
	}
	r := &buf{}
	r.m.Lock()
	r.iswrite = true
	ms.store[key] = r
	return r, nil
}

// Delete the given key from the store. It is not an error if the entry
// does not exist.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.store, key)
	ms.m.Unlock()
	return nil
}

// Dump writes a sorted listing of the store to the given writer. The
// dry run delivery prints this so the operator can see the layout that
// would have gone out.
func (ms *Memory) Dump(w io.Writer) {
	keys, _ := ms.ListPrefix("")
	ms.m.RLock()
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%d\n", k, len(ms.store[k].b))
	}
	ms.m.RUnlock()
}
