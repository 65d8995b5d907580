package config

import (
	"os"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"
)

// ImportLegacy reads the JSON configuration of the old desktop tool
// ("coh3toEDF.config") and maps it onto a Config. Only the keys the old
// tool actually wrote are read; anything missing keeps its default.
// Sites migrate with `cohanon import-config`.
func ImportLegacy(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading legacy config %s", path)
	}
	defer f.Close()

	obj, err := jason.NewObjectFromReader(f)
	if err != nil {
		return Config{}, errors.Wrapf(err, "parsing legacy config %s", path)
	}

	c := Default()
	if exe, err := obj.GetString("path_to_executable"); err == nil {
		c.Converter = exe
	}
	if src, err := obj.GetString("source_dir"); err == nil {
		c.SourceRoot = src
	}
	if dst, err := obj.GetString("destination_dir"); err == nil {
		c.DestRoot = dst
	}
	if ow, err := obj.GetBoolean("overwrite"); err == nil {
		c.Overwrite = ow
	}
	return c, nil
}
