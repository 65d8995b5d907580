package util

import (
	"bytes"
	"strings"
	"testing"
)

const (
	abcMD5    = "900150983cd24fb0d6963f7d28e17f72"
	abcSHA256 = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
)

func TestHashWriter(t *testing.T) {
	var w bytes.Buffer
	hw := NewHashWriter(&w)
	hw.Write([]byte("abc"))
	if w.String() != "abc" {
		t.Fatalf("wrapped writer received %q, expected %q", w.String(), "abc")
	}
	if hw.HexMD5() != abcMD5 {
		t.Errorf("HexMD5() == %s, expected %s", hw.HexMD5(), abcMD5)
	}
	if hw.HexSHA256() != abcSHA256 {
		t.Errorf("HexSHA256() == %s, expected %s", hw.HexSHA256(), abcSHA256)
	}
}

func TestHashReader(t *testing.T) {
	gotmd5, gotsha, err := HashReader(strings.NewReader("abc"))
	if err != nil {
		t.Fatalf("HashReader() returned %s", err)
	}
	if gotmd5 != abcMD5 || gotsha != abcSHA256 {
		t.Fatalf("HashReader() == %s, %s", gotmd5, gotsha)
	}
}

func TestVerifyReader(t *testing.T) {
	var table = []struct {
		md5, sha256 string
		want        bool
	}{
		{abcMD5, abcSHA256, true},
		{abcMD5, "", true},
		{"", abcSHA256, true},
		{"", "", true},
		{abcMD5, "deadbeef", false},
		{"deadbeef", abcSHA256, false},
	}
	for _, tab := range table {
		got, err := VerifyReader(strings.NewReader("abc"), tab.md5, tab.sha256)
		if err != nil {
			t.Fatalf("VerifyReader(%q, %q) returned %s", tab.md5, tab.sha256, err)
		}
		if got != tab.want {
			t.Errorf("VerifyReader(%q, %q) == %v, expected %v", tab.md5, tab.sha256, got, tab.want)
		}
	}
}
