package storetest

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/umcneuro/cohanon/store"
)

func TestMemoryStress(t *testing.T) {
	Stress(t, store.NewMemory(), 4*1000*1000)
}

func TestFileSystemStress(t *testing.T) {
	dir, err := ioutil.TempDir("", "storetest")
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	defer os.RemoveAll(dir)
	Stress(t, store.NewFileSystem(dir), 4*1000*1000)
}
