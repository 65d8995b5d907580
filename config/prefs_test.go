package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/umcneuro/cohanon/scrub"
)

func TestPrefsRoundTrip(t *testing.T) {
	dir, _ := ioutil.TempDir("", "prefs")
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "prefs.ini")

	p := Prefs{
		Source:    "/data/eeg/incoming",
		Dest:      "/data/eeg/anonymised",
		Converter: "/opt/deltamed/coh3toEDF.exe",
		Fields:    scrub.Toggles{Name: true, Surname: true, NameFromFolder: true},
	}
	if err := p.Save(path); err != nil {
		t.Fatalf("Save() returned %s", err)
	}

	q, err := LoadPrefs(path)
	if err != nil {
		t.Fatalf("LoadPrefs() returned %s", err)
	}
	if q != p {
		t.Errorf("LoadPrefs() == %#v, expected %#v", q, p)
	}
}

func TestPrefsMissing(t *testing.T) {
	dir, _ := ioutil.TempDir("", "prefs")
	defer os.RemoveAll(dir)

	q, err := LoadPrefs(filepath.Join(dir, "nope.ini"))
	if err != nil {
		t.Fatalf("LoadPrefs() returned %s", err)
	}
	if q != (Prefs{}) {
		t.Errorf("LoadPrefs() == %#v, expected the zero prefs", q)
	}
}
