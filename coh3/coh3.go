// Package coh3 reads and rewrites the patient identification block of
// Deltamed Coherence version 3 recordings (".eeg" files). Only the fixed
// size header at the front of a recording is interpreted; everything after
// it is signal payload and is never touched by this package.
//
// The header stores each patient field at a fixed byte offset with a fixed
// width. Values are single byte text, padded to the slot width with NUL
// bytes. The offsets below were verified against recordings anonymised by
// the vendor's own tooling, which also NUL fills cleared slots.
package coh3

import (
	"bytes"
	"errors"
)

// HeaderSize is the minimum number of leading bytes a recording must have
// for the patient fields to be present. Shorter files are not coh3.
const HeaderSize = 720

// Filler is the padding byte for short values and the fill for blanked
// slots. The converter shipped with Coherence accepts NUL filled fields,
// so this is a compatibility constant, not a free choice.
const Filler byte = 0x00

// ErrShortHeader is returned when a buffer is too small to contain the
// patient identification block.
var ErrShortHeader = errors.New("coh3: header truncated")

// A Field identifies one patient text slot in the header.
type Field int

const (
	Name Field = iota
	Surname
	Birthdate
	Sex
	Folder
	Centre
	Comment
	numFields
)

var fieldNames = [numFields]string{
	Name:      "name",
	Surname:   "surname",
	Birthdate: "birthdate",
	Sex:       "sex",
	Folder:    "folder",
	Centre:    "centre",
	Comment:   "comment",
}

// fieldTable is the single source of truth for the header layout. Offset
// and width are in bytes from the start of the file.
var fieldTable = [numFields]struct{ offset, width int }{
	Name:      {314, 50},
	Surname:   {364, 30},
	Birthdate: {394, 10},
	Sex:       {404, 1},
	Folder:    {405, 20},
	Centre:    {425, 39},
	Comment:   {464, 255},
}

func (f Field) String() string {
	if f < 0 || f >= numFields {
		return "unknown"
	}
	return fieldNames[f]
}

// Width returns the number of bytes field f occupies in the header.
func (f Field) Width() int { return fieldTable[f].width }

// Offset returns the position of field f from the start of the file.
func (f Field) Offset() int { return fieldTable[f].offset }

// Fields returns every patient field in header order.
func Fields() []Field {
	fs := make([]Field, numFields)
	for i := range fs {
		fs[i] = Field(i)
	}
	return fs
}

// FieldByName maps the lowercase field name to its Field. The second
// return is false if the name is not a patient field.
func FieldByName(name string) (Field, bool) {
	for i, n := range fieldNames {
		if n == name {
			return Field(i), true
		}
	}
	return 0, false
}

// A Header holds the decoded patient fields of one recording.
type Header struct {
	Name      string
	Surname   string
	Birthdate string
	Sex       string
	Folder    string
	Centre    string
	Comment   string
}

// Get returns the value of field f.
func (h Header) Get(f Field) string {
	switch f {
	case Name:
		return h.Name
	case Surname:
		return h.Surname
	case Birthdate:
		return h.Birthdate
	case Sex:
		return h.Sex
	case Folder:
		return h.Folder
	case Centre:
		return h.Centre
	case Comment:
		return h.Comment
	}
	return ""
}

// ReadHeader decodes every patient field from the leading bytes of buf.
// It returns ErrShortHeader if buf is smaller than HeaderSize.
func ReadHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		Name:      getField(buf, Name),
		Surname:   getField(buf, Surname),
		Birthdate: getField(buf, Birthdate),
		Sex:       getField(buf, Sex),
		Folder:    getField(buf, Folder),
		Centre:    getField(buf, Centre),
		Comment:   getField(buf, Comment),
	}, nil
}

// GetField decodes a single field from buf. It returns ErrShortHeader if
// buf is smaller than HeaderSize.
func GetField(buf []byte, f Field) (string, error) {
	if len(buf) < HeaderSize {
		return "", ErrShortHeader
	}
	return getField(buf, f), nil
}

func getField(buf []byte, f Field) string {
	t := fieldTable[f]
	v := buf[t.offset : t.offset+t.width]
	return string(bytes.TrimRight(v, string(Filler)))
}

// PutField overwrites the slot for field f in buf with value. The value
// is encoded to exactly the slot width: characters that do not fit in one
// byte are dropped, overlong values are cut at the width, and short values
// are padded with Filler. The buffer length never changes. An empty value
// leaves the slot entirely Filler, which is the blanked state.
//
// Dropping and cutting are silent. The slots are too narrow for some real
// names and the format has no escape hatch, so lossy writes are part of
// the contract here.
func PutField(buf []byte, f Field, value string) error {
	if len(buf) < HeaderSize {
		return ErrShortHeader
	}
	t := fieldTable[f]
	enc := encode(value, t.width)
	copy(buf[t.offset:t.offset+t.width], enc)
	return nil
}

// encode renders value as single byte text of exactly width bytes.
func encode(value string, width int) []byte {
	out := make([]byte, width)
	for i := range out {
		out[i] = Filler
	}
	i := 0
	for _, r := range value {
		if i >= width {
			break
		}
		if r > 0x7f {
			continue
		}
		out[i] = byte(r)
		i++
	}
	return out
}
