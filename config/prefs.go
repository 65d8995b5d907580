package config

import (
	"os"

	"github.com/pkg/errors"
	ini "gopkg.in/ini.v1"

	"github.com/umcneuro/cohanon/scrub"
)

// Prefs is the small mutable state remembered between interactive runs:
// the last roots, the converter path, and the field toggles as they
// were left. It lives in an INI file next to the user, never in the
// main config, so a shared config file stays clean.
type Prefs struct {
	Source    string
	Dest      string
	Converter string
	Fields    scrub.Toggles
}

// LoadPrefs reads the preference file. A missing file is not an error,
// it just means first run: the zero Prefs comes back.
func LoadPrefs(path string) (Prefs, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Prefs{}, nil
	}
	f, err := ini.Load(path)
	if err != nil {
		return Prefs{}, errors.Wrapf(err, "reading preferences %s", path)
	}
	var p Prefs
	paths := f.Section("paths")
	p.Source = paths.Key("source").String()
	p.Dest = paths.Key("dest").String()
	p.Converter = paths.Key("converter").String()

	fields := f.Section("fields")
	p.Fields.Name = fields.Key("name").MustBool(false)
	p.Fields.Surname = fields.Key("surname").MustBool(false)
	p.Fields.Birthdate = fields.Key("birthdate").MustBool(false)
	p.Fields.Sex = fields.Key("sex").MustBool(false)
	p.Fields.Folder = fields.Key("folder").MustBool(false)
	p.Fields.Centre = fields.Key("centre").MustBool(false)
	p.Fields.Comment = fields.Key("comment").MustBool(false)
	p.Fields.RedactAll = fields.Key("redact_all").MustBool(false)
	p.Fields.NameFromFolder = fields.Key("name_from_folder").MustBool(false)
	return p, nil
}

// Save writes the preference file, replacing the previous state.
func (p Prefs) Save(path string) error {
	f := ini.Empty()
	paths := f.Section("paths")
	paths.Key("source").SetValue(p.Source)
	paths.Key("dest").SetValue(p.Dest)
	paths.Key("converter").SetValue(p.Converter)

	fields := f.Section("fields")
	setbool := func(key string, v bool) {
		if v {
			fields.Key(key).SetValue("true")
		} else {
			fields.Key(key).SetValue("false")
		}
	}
	setbool("name", p.Fields.Name)
	setbool("surname", p.Fields.Surname)
	setbool("birthdate", p.Fields.Birthdate)
	setbool("sex", p.Fields.Sex)
	setbool("folder", p.Fields.Folder)
	setbool("centre", p.Fields.Centre)
	setbool("comment", p.Fields.Comment)
	setbool("redact_all", p.Fields.RedactAll)
	setbool("name_from_folder", p.Fields.NameFromFolder)
	return errors.Wrapf(f.SaveTo(path), "writing preferences %s", path)
}
