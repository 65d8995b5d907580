package store

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func TestValidKey(t *testing.T) {
	var table = []struct {
		input string
		err   error
	}{
		{"rec.eeg", nil},
		{"site-a/p1/rec.eeg", nil},
		{"Pät/ünïcode.eeg", nil},
		{"/abs/rec.eeg", ErrKeyAbsolute},
		{"a/../b", ErrKeyDots},
		{"..", ErrKeyDots},
		{"", ErrKeyBadCharacter},
		{"a\x00b", ErrKeyBadCharacter},
		{"a\tb", ErrKeyBadCharacter},
	}
	for _, tab := range table {
		err := validKey(tab.input)
		if err != tab.err {
			t.Errorf("validKey(%q) == %v, expected %v", tab.input, err, tab.err)
		}
	}
}

func TestWalkTree(t *testing.T) {
	var files = []string{
		"site-a/",
		"site-a/p1/",
		"site-a/p1/rec1.eeg",
		"site-a/p1/rec1.EDF",
		"site-a/p2/",
		"site-a/p2/rec2.eeg",
		"site-b/",
		"site-b/rec3.eeg",
		"toplevel.eeg",
		".scratch/",
		".scratch/leftover",
	}
	var goal = []string{
		"site-a/p1/rec1.EDF",
		"site-a/p1/rec1.eeg",
		"site-a/p2/rec2.eeg",
		"site-b/rec3.eeg",
		"toplevel.eeg",
	}
	dir := makeTmpTree(files)
	defer os.RemoveAll(dir)
	s := NewFileSystem(dir)
	var result []string
	for key := range s.List() {
		result = append(result, key)
		t.Log(key)
	}
	sort.Strings(result)
	if !equalLists(result, goal) {
		t.Errorf("Got %v, expected %v", result, goal)
	}
}

func TestListPrefix(t *testing.T) {
	var files = []string{
		"site-a/",
		"site-a/p1/",
		"site-a/p1/rec1.eeg",
		"site-a/p1/rec1.EDF",
		"site-a/p2/",
		"site-a/p2/rec2.eeg",
		"site-b/",
		"site-b/p3/",
		"site-b/p3/rec3.eeg",
		".scratch/",
		".scratch/leftover",
	}
	var table = []struct {
		prefix   string
		expected []string
	}{
		{"", []string{
			"site-a/p1/rec1.EDF",
			"site-a/p1/rec1.eeg",
			"site-a/p2/rec2.eeg",
			"site-b/p3/rec3.eeg",
		}},
		{"site-a/", []string{
			"site-a/p1/rec1.EDF",
			"site-a/p1/rec1.eeg",
			"site-a/p2/rec2.eeg",
		}},
		{"site-a/p1/", []string{
			"site-a/p1/rec1.EDF",
			"site-a/p1/rec1.eeg",
		}},
		{"site-a/p1/rec1.e", []string{
			"site-a/p1/rec1.eeg",
		}},
		{"site", []string{
			"site-a/p1/rec1.EDF",
			"site-a/p1/rec1.eeg",
			"site-a/p2/rec2.eeg",
			"site-b/p3/rec3.eeg",
		}},
		{"nothere/", nil},
	}
	dir := makeTmpTree(files)
	defer os.RemoveAll(dir)
	s := NewFileSystem(dir)
	for _, tab := range table {
		t.Logf("Trying prefix %s", tab.prefix)
		result, err := s.ListPrefix(tab.prefix)
		if err != nil {
			t.Errorf("Got unexpected error: %s", err.Error())
		} else if !equalLists(result, tab.expected) {
			t.Errorf("Got result %v, expected %v", result, tab.expected)
		}
	}
}

func TestFileSystemRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "store")
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	defer os.RemoveAll(dir)
	s := NewFileSystem(dir)

	const key = "site-a/p1/rec1.eeg"
	w, err := s.Create(key)
	if err != nil {
		t.Fatalf("Create() returned %s", err.Error())
	}
	_, err = w.Write([]byte("recording bytes"))
	if err != nil {
		t.Fatalf("Write() returned %s", err.Error())
	}
	err = w.Close()
	if err != nil {
		t.Fatalf("Close() returned %s", err.Error())
	}

	// the file is in its final place and the scratch area is clean
	data, err := ioutil.ReadFile(filepath.Join(dir, "site-a", "p1", "rec1.eeg"))
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	if string(data) != "recording bytes" {
		t.Errorf("Received %q", data)
	}
	leftover, err := ioutil.ReadDir(filepath.Join(dir, scratchdir))
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	if len(leftover) != 0 {
		t.Errorf("scratch dir has %d entries, expected 0", len(leftover))
	}

	_, err = s.Create(key)
	if err != ErrKeyExists {
		t.Errorf("Create() returned %v, expected ErrKeyExists", err)
	}

	r, size, err := s.Open(key)
	if err != nil {
		t.Fatalf("Open() returned %s", err.Error())
	}
	if size != int64(len("recording bytes")) {
		t.Errorf("Open() size == %d", size)
	}
	readback, err := ioutil.ReadAll(NewReader(r))
	r.Close()
	if err != nil || string(readback) != "recording bytes" {
		t.Errorf("Received %q %v", readback, err)
	}

	err = s.Delete(key)
	if err != nil {
		t.Fatalf("Delete() returned %s", err.Error())
	}
	_, _, err = s.Open(key)
	if !os.IsNotExist(err) {
		t.Errorf("Open() after delete returned %v", err)
	}
	err = s.Delete(key)
	if err != nil {
		t.Errorf("second Delete() returned %v", err)
	}

	// writers never clobber an entry that appeared while they were open
	w1, err := s.Create("slow.eeg")
	if err != nil {
		t.Fatalf("Create() returned %s", err.Error())
	}
	err = ioutil.WriteFile(filepath.Join(dir, "slow.eeg"), []byte("raced"), 0644)
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	w1.Write([]byte("late"))
	err = w1.Close()
	if err != ErrKeyExists {
		t.Errorf("Close() returned %v, expected ErrKeyExists", err)
	}
	data, _ = ioutil.ReadFile(filepath.Join(dir, "slow.eeg"))
	if string(data) != "raced" {
		t.Errorf("Received %q, expected the first file to survive", data)
	}
}

func TestFileSystemBadKeys(t *testing.T) {
	dir, err := ioutil.TempDir("", "store")
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	defer os.RemoveAll(dir)
	s := NewFileSystem(dir)
	for _, key := range []string{"../escape.eeg", "/abs.eeg", ""} {
		_, err = s.Create(key)
		if err == nil {
			t.Errorf("Create(%q) succeeded, expected an error", key)
		}
		_, _, err = s.Open(key)
		if err == nil {
			t.Errorf("Open(%q) succeeded, expected an error", key)
		}
		err = s.Delete(key)
		if err == nil {
			t.Errorf("Delete(%q) succeeded, expected an error", key)
		}
	}
}

// returns abs path to the root of the new tree.
// remember to delete the new directory when finished.
func makeTmpTree(files []string) string {
	var data []byte
	root, _ := ioutil.TempDir("", "")
	for _, s := range files {
		var err error
		p := filepath.Join(root, s)
		if strings.HasSuffix(s, "/") {
			err = os.Mkdir(p, 0777)
		} else {
			err = ioutil.WriteFile(p, data, 0777)
		}
		if err != nil {
			fmt.Println(err)
		}
	}
	return root
}

func equalLists(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
