package main

import (
	"testing"
	"time"

	"github.com/umcneuro/cohanon/scrub"
)

func TestParseFields(t *testing.T) {
	tog, err := parsefields("name, surname,birthdate")
	if err != nil {
		t.Fatalf("Received %s, expected no error", err.Error())
	}
	goal := scrub.Toggles{Name: true, Surname: true, Birthdate: true}
	if tog != goal {
		t.Errorf("Received %#v, expected %#v", tog, goal)
	}

	if _, err = parsefields("name,shoe_size"); err == nil {
		t.Error("Expected an error for an unknown field")
	}
}

func TestSplitList(t *testing.T) {
	var table = []struct {
		input string
		goal  []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{" a , b ,", []string{"a", "b"}},
		{",,", nil},
	}
	for _, row := range table {
		t.Log(row.input)
		out := splitlist(row.input)
		if len(out) != len(row.goal) {
			t.Errorf("Received %#v, expected %#v", out, row.goal)
			continue
		}
		for i := range out {
			if out[i] != row.goal[i] {
				t.Errorf("Received %#v, expected %#v", out, row.goal)
			}
		}
	}
}

func TestDefaultAll(t *testing.T) {
	tog := defaultall(scrub.Toggles{})
	if !tog.RedactAll {
		t.Error("Expected RedactAll to be turned on")
	}
	tog = defaultall(scrub.Toggles{Name: true})
	if tog.RedactAll {
		t.Error("Expected the chosen toggles to be kept")
	}
}

func TestFmtTime(t *testing.T) {
	if s := fmttime(time.Time{}); s != "-" {
		t.Errorf("Received %#v, expected %#v", s, "-")
	}
	when := time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)
	if s := fmttime(when); s != "2024-05-17 09:30:00" {
		t.Errorf("Received %#v, expected %#v", s, "2024-05-17 09:30:00")
	}
}
