package scrub

import (
	"path/filepath"

	"github.com/umcneuro/cohanon/coh3"
)

// An Action says what to do with one header field.
type Action int

const (
	// Unchanged passes the field through byte for byte.
	Unchanged Action = iota
	// Blank clears the field to the format's empty state.
	Blank
	// Replace writes a literal value, fitted to the field width.
	Replace
)

// A Rule is the action for a single field. Value is only meaningful for
// Replace.
type Rule struct {
	Action Action
	Value  string
}

// A Request says what happens to each patient field of a recording.
//
// Precedence, most binding first: NameFromFolder controls the name field
// alone and beats everything else for it; an explicit entry in Rules
// beats RedactAll; RedactAll blanks every field without an entry;
// a field with no entry and no RedactAll passes through unchanged.
type Request struct {
	// Rules holds explicit per field actions.
	Rules map[coh3.Field]Rule

	// RedactAll blankets every field not covered by Rules with Blank.
	RedactAll bool

	// NameFromFolder replaces the name field with the last path
	// segment of the destination file's directory. Datasets organised
	// as one folder per pseudonymised patient use this to stamp the
	// pseudonym into the recording itself.
	NameFromFolder bool
}

// resolve returns the effective rule for field f when writing into
// destDir.
func (r Request) resolve(f coh3.Field, destDir string) Rule {
	if f == coh3.Name && r.NameFromFolder {
		return Rule{Action: Replace, Value: filepath.Base(destDir)}
	}
	if rule, ok := r.Rules[f]; ok {
		return rule
	}
	if r.RedactAll {
		return Rule{Action: Blank}
	}
	return Rule{Action: Unchanged}
}

// Toggles is the flat boolean surface the configuration file, the
// command line, and the service API all share. A true field toggle
// means "blank this field".
type Toggles struct {
	Name           bool `toml:"name" json:"name"`
	Surname        bool `toml:"surname" json:"surname"`
	Birthdate      bool `toml:"birthdate" json:"birthdate"`
	Sex            bool `toml:"sex" json:"sex"`
	Folder         bool `toml:"folder" json:"folder"`
	Centre         bool `toml:"centre" json:"centre"`
	Comment        bool `toml:"comment" json:"comment"`
	RedactAll      bool `toml:"redact_all" json:"redact_all"`
	NameFromFolder bool `toml:"name_from_folder" json:"name_from_folder"`
}

// Request expands the toggles into a Request. Only toggles that are on
// produce explicit rules, so RedactAll still blankets the rest.
func (t Toggles) Request() Request {
	r := Request{
		Rules:          make(map[coh3.Field]Rule),
		RedactAll:      t.RedactAll,
		NameFromFolder: t.NameFromFolder,
	}
	set := func(f coh3.Field, on bool) {
		if on {
			r.Rules[f] = Rule{Action: Blank}
		}
	}
	set(coh3.Name, t.Name)
	set(coh3.Surname, t.Surname)
	set(coh3.Birthdate, t.Birthdate)
	set(coh3.Sex, t.Sex)
	set(coh3.Folder, t.Folder)
	set(coh3.Centre, t.Centre)
	set(coh3.Comment, t.Comment)
	return r
}
