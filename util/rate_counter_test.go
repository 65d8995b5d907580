package util

import (
	"io/ioutil"
	"strings"
	"testing"
)

func TestRateCounterRead(t *testing.T) {
	r := NewRateCounter(1 << 30)
	rdr := r.Wrap(strings.NewReader("payload"))
	data, err := ioutil.ReadAll(rdr)
	if err != nil {
		t.Fatalf("ReadAll() returned %s", err)
	}
	if string(data) != "payload" {
		t.Fatalf("ReadAll() == %q, expected %q", data, "payload")
	}
	r.Stop()
	if _, err := rdr.Read(make([]byte, 1)); err != ErrStopped {
		t.Fatalf("Read() after Stop returned %v, expected ErrStopped", err)
	}
}
