// Package config holds the runtime configuration of the batch tool and
// the service. The engine itself never touches these files; everything
// here is resolved by the calling layer and handed to the engine as
// plain values.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/umcneuro/cohanon/scrub"
)

// Config is the main configuration file, TOML on disk.
type Config struct {
	// SourceRoot and DestRoot are the default batch roots. An empty
	// DestRoot means recordings are rewritten in place.
	SourceRoot string `toml:"source_root"`
	DestRoot   string `toml:"dest_root"`

	// Sources are the roots dataset builds search, fastest share
	// first. Empty means SourceRoot alone.
	Sources []string `toml:"sources"`

	// Workers bounds how many recordings are processed at once.
	Workers int `toml:"workers"`

	// Converter is the path to the vendor's conversion executable.
	// ConvertAfter turns on conversion of every anonymised output;
	// Overwrite redoes conversions whose output already exists.
	Converter             string `toml:"converter"`
	ConvertAfter          bool   `toml:"convert_after"`
	Overwrite             bool   `toml:"overwrite"`
	ConvertTimeoutMinutes int    `toml:"convert_timeout_minutes"`

	// Fields selects what is redacted.
	Fields scrub.Toggles `toml:"fields"`

	// AuditQL is the path of the embedded audit database, or "memory".
	// AuditMySQL, when set, wins and dials an external MySQL server.
	// Both empty disables the audit trail.
	AuditQL    string `toml:"audit_ql"`
	AuditMySQL string `toml:"audit_mysql"`

	// Export is where finished datasets are delivered, as a location
	// string: a bare path or file://path, or s3://host/bucket/prefix.
	Export string `toml:"export"`

	// Service settings for cohanond.
	Port      string `toml:"port"`
	TokenFile string `toml:"token_file"`
	PProfPort string `toml:"pprof_port"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Workers:               4,
		ConvertTimeoutMinutes: 10,
		Port:                  "14000",
	}
}

// Load reads the TOML file at path over the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	return c, nil
}

// Save writes c as TOML to path, replacing whatever is there.
func Save(path string, c Config) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "writing config %s", path)
	}
	defer f.Close()
	return errors.Wrapf(toml.NewEncoder(f).Encode(c), "writing config %s", path)
}
