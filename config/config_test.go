package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

const sampleTOML = `
source_root = "/data/eeg/incoming"
dest_root = "/data/eeg/anonymised"
sources = ["/data/eeg/incoming", "/mnt/archive/eeg"]
workers = 8
converter = "/opt/deltamed/coh3toEDF.exe"
convert_after = true
audit_ql = "/var/lib/cohanon/audit.ql"

[fields]
redact_all = true
name_from_folder = true
centre = true
`

func TestLoad(t *testing.T) {
	dir, _ := ioutil.TempDir("", "config")
	defer os.RemoveAll(dir)
	p := filepath.Join(dir, "cohanon.toml")
	if err := ioutil.WriteFile(p, []byte(sampleTOML), 0644); err != nil {
		t.Fatalf("WriteFile() returned %s", err)
	}

	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load() returned %s", err)
	}
	if c.SourceRoot != "/data/eeg/incoming" {
		t.Errorf("SourceRoot == %q", c.SourceRoot)
	}
	if len(c.Sources) != 2 || c.Sources[1] != "/mnt/archive/eeg" {
		t.Errorf("Sources == %v", c.Sources)
	}
	if c.Workers != 8 {
		t.Errorf("Workers == %d, expected 8", c.Workers)
	}
	if !c.ConvertAfter {
		t.Errorf("ConvertAfter == false, expected true")
	}
	if !c.Fields.RedactAll || !c.Fields.NameFromFolder || !c.Fields.Centre {
		t.Errorf("Fields == %+v", c.Fields)
	}
	if c.Fields.Name {
		t.Errorf("Fields.Name == true, expected false")
	}
	// defaults survive where the file is silent
	if c.ConvertTimeoutMinutes != 10 {
		t.Errorf("ConvertTimeoutMinutes == %d, expected 10", c.ConvertTimeoutMinutes)
	}
	if c.Port != "14000" {
		t.Errorf("Port == %q, expected 14000", c.Port)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load("/no/such/cohanon.toml"); err == nil {
		t.Fatalf("Load() on a missing file returned no error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir, _ := ioutil.TempDir("", "config")
	defer os.RemoveAll(dir)
	p := filepath.Join(dir, "cohanon.toml")

	c := Default()
	c.SourceRoot = "/in"
	c.Converter = "/opt/conv.exe"
	c.Fields.RedactAll = true
	if err := Save(p, c); err != nil {
		t.Fatalf("Save() returned %s", err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load() returned %s", err)
	}
	if got.SourceRoot != "/in" {
		t.Errorf("SourceRoot == %q, expected /in", got.SourceRoot)
	}
	if got.Converter != "/opt/conv.exe" {
		t.Errorf("Converter == %q, expected /opt/conv.exe", got.Converter)
	}
	if got.Fields != c.Fields {
		t.Errorf("Fields == %+v, expected %+v", got.Fields, c.Fields)
	}
	if got.Workers != c.Workers {
		t.Errorf("Workers == %d, expected %d", got.Workers, c.Workers)
	}
	if got.Port != c.Port {
		t.Errorf("Port == %q, expected %q", got.Port, c.Port)
	}
}

func TestImportLegacy(t *testing.T) {
	dir, _ := ioutil.TempDir("", "config")
	defer os.RemoveAll(dir)
	p := filepath.Join(dir, "coh3toEDF.config")
	legacy := `{"path_to_executable": "C:\\Deltamed\\coh3toEDF.exe", "overwrite": true}`
	ioutil.WriteFile(p, []byte(legacy), 0644)

	c, err := ImportLegacy(p)
	if err != nil {
		t.Fatalf("ImportLegacy() returned %s", err)
	}
	if c.Converter != `C:\Deltamed\coh3toEDF.exe` {
		t.Errorf("Converter == %q", c.Converter)
	}
	if !c.Overwrite {
		t.Errorf("Overwrite == false, expected true")
	}
	// untouched keys keep their defaults
	if c.Workers != Default().Workers {
		t.Errorf("Workers == %d, expected default", c.Workers)
	}
}

func TestImportLegacyBadJSON(t *testing.T) {
	dir, _ := ioutil.TempDir("", "config")
	defer os.RemoveAll(dir)
	p := filepath.Join(dir, "broken.config")
	ioutil.WriteFile(p, []byte("{not json"), 0644)
	if _, err := ImportLegacy(p); err == nil {
		t.Fatalf("ImportLegacy() on broken JSON returned no error")
	}
}
