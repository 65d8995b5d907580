package coh3

import (
	"bytes"
	"strings"
	"testing"
)

func TestFieldTableLayout(t *testing.T) {
	// The patient block is one contiguous run from name through comment.
	if Name.Offset() != 314 {
		t.Fatalf("Name.Offset() == %d, expected 314", Name.Offset())
	}
	end := Name.Offset()
	for _, f := range Fields() {
		if f.Offset() != end {
			t.Errorf("%s offset == %d, expected %d", f, f.Offset(), end)
		}
		end = f.Offset() + f.Width()
	}
	if end != 719 {
		t.Fatalf("patient block ends at %d, expected 719", end)
	}
	if end >= HeaderSize {
		t.Fatalf("patient block does not fit in HeaderSize %d", HeaderSize)
	}
}

func TestRoundTrip(t *testing.T) {
	var table = []struct {
		field Field
		value string
		want  string
	}{
		{Name, "Jansen", "Jansen"},
		{Name, "", ""},
		{Surname, "van der Berg", "van der Berg"},
		{Birthdate, "01/02/1993", "01/02/1993"},
		{Birthdate, "01/02/1993 08:15", "01/02/1993"},
		{Sex, "M", "M"},
		{Sex, "Male", "M"},
		{Folder, "EEG_2021_000123", "EEG_2021_000123"},
		{Folder, strings.Repeat("x", 30), strings.Repeat("x", 20)},
		{Centre, "Clinical Neurophysiology", "Clinical Neurophysiology"},
		{Comment, "routine follow-up", "routine follow-up"},
		// characters outside single byte text are dropped, then the
		// remainder is fit to the slot
		{Name, "Zoë", "Zo"},
		{Name, "日本", ""},
	}
	for _, tab := range table {
		buf := make([]byte, HeaderSize)
		err := PutField(buf, tab.field, tab.value)
		if err != nil {
			t.Fatalf("PutField(%s, %q) returned %s", tab.field, tab.value, err)
		}
		got, err := GetField(buf, tab.field)
		if err != nil {
			t.Fatalf("GetField(%s) returned %s", tab.field, err)
		}
		if got != tab.want {
			t.Errorf("GetField(%s) == %q, expected %q", tab.field, got, tab.want)
		}
	}
}

func TestPutFieldKeepsLength(t *testing.T) {
	buf := make([]byte, HeaderSize+100)
	for i := range buf {
		buf[i] = 0xAA
	}
	if err := PutField(buf, Comment, strings.Repeat("y", 1000)); err != nil {
		t.Fatalf("PutField() returned %s", err)
	}
	if len(buf) != HeaderSize+100 {
		t.Fatalf("len(buf) == %d, expected %d", len(buf), HeaderSize+100)
	}
	// bytes outside the slot are untouched
	if buf[Comment.Offset()-1] != 0xAA {
		t.Errorf("byte before slot was modified")
	}
	if buf[Comment.Offset()+Comment.Width()] != 0xAA {
		t.Errorf("byte after slot was modified")
	}
}

func TestBlankFillsSlot(t *testing.T) {
	buf := make([]byte, HeaderSize)
	for i := range buf {
		buf[i] = 'z'
	}
	if err := PutField(buf, Folder, ""); err != nil {
		t.Fatalf("PutField() returned %s", err)
	}
	slot := buf[Folder.Offset() : Folder.Offset()+Folder.Width()]
	if !bytes.Equal(slot, make([]byte, Folder.Width())) {
		t.Fatalf("blanked slot == %q, expected all NUL", slot)
	}
}

func TestShortHeader(t *testing.T) {
	buf := make([]byte, HeaderSize-1)
	if _, err := ReadHeader(buf); err != ErrShortHeader {
		t.Fatalf("ReadHeader() error == %v, expected ErrShortHeader", err)
	}
	if _, err := GetField(buf, Name); err != ErrShortHeader {
		t.Fatalf("GetField() error == %v, expected ErrShortHeader", err)
	}
	if err := PutField(buf, Name, "x"); err != ErrShortHeader {
		t.Fatalf("PutField() error == %v, expected ErrShortHeader", err)
	}
}

func TestReadHeader(t *testing.T) {
	buf := make([]byte, HeaderSize)
	PutField(buf, Name, "Anna")
	PutField(buf, Surname, "de Vries")
	PutField(buf, Birthdate, "31/12/1980")
	PutField(buf, Sex, "F")
	PutField(buf, Folder, "F0001")
	PutField(buf, Centre, "UMC")
	PutField(buf, Comment, "first visit")

	h, err := ReadHeader(buf)
	if err != nil {
		t.Fatalf("ReadHeader() returned %s", err)
	}
	want := Header{
		Name:      "Anna",
		Surname:   "de Vries",
		Birthdate: "31/12/1980",
		Sex:       "F",
		Folder:    "F0001",
		Centre:    "UMC",
		Comment:   "first visit",
	}
	if h != want {
		t.Fatalf("ReadHeader() == %#v, expected %#v", h, want)
	}
	for _, f := range Fields() {
		if h.Get(f) != want.Get(f) {
			t.Errorf("Get(%s) == %q, expected %q", f, h.Get(f), want.Get(f))
		}
	}
}

func TestFieldByName(t *testing.T) {
	for _, f := range Fields() {
		got, ok := FieldByName(f.String())
		if !ok || got != f {
			t.Errorf("FieldByName(%q) == %v, %v", f.String(), got, ok)
		}
	}
	if _, ok := FieldByName("ssn"); ok {
		t.Errorf("FieldByName(\"ssn\") reported ok")
	}
}
