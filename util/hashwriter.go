package util

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// A HashWriter wraps an io.Writer and computes the MD5 and SHA256 of
// everything written through it in one pass. The audit trail records both
// digests for every anonymised output so the sweep can later prove the
// file on disk is still the file we wrote.
type HashWriter struct {
	io.Writer
	md5    hash.Hash
	sha256 hash.Hash
}

// NewHashWriter returns a HashWriter wrapping w.
func NewHashWriter(w io.Writer) *HashWriter {
	hw := &HashWriter{
		md5:    md5.New(),
		sha256: sha256.New(),
	}
	hw.Writer = io.MultiWriter(w, hw.md5, hw.sha256)
	return hw
}

// NewHashWriterPlain returns a HashWriter that only digests. Writes are
// not forwarded anywhere.
func NewHashWriterPlain() *HashWriter {
	hw := &HashWriter{
		md5:    md5.New(),
		sha256: sha256.New(),
	}
	hw.Writer = io.MultiWriter(hw.md5, hw.sha256)
	return hw
}

// SumMD5 returns the MD5 digest of the bytes written so far.
func (hw *HashWriter) SumMD5() []byte { return hw.md5.Sum(nil) }

// SumSHA256 returns the SHA256 digest of the bytes written so far.
func (hw *HashWriter) SumSHA256() []byte { return hw.sha256.Sum(nil) }

// HexMD5 returns the MD5 digest in lowercase hex, the form the audit
// database stores.
func (hw *HashWriter) HexMD5() string { return hex.EncodeToString(hw.SumMD5()) }

// HexSHA256 returns the SHA256 digest in lowercase hex.
func (hw *HashWriter) HexSHA256() string { return hex.EncodeToString(hw.SumSHA256()) }

// HashReader digests the entire reader and returns both digests in
// lowercase hex. The reader is not closed.
func HashReader(r io.Reader) (md5hex string, sha256hex string, err error) {
	hw := NewHashWriterPlain()
	_, err = io.Copy(hw, r)
	if err != nil {
		return "", "", err
	}
	return hw.HexMD5(), hw.HexSHA256(), nil
}

// VerifyReader digests the reader and compares against the given hex
// digests. An empty goal string skips that digest. It returns true when
// every supplied goal matches.
func VerifyReader(r io.Reader, md5hex, sha256hex string) (bool, error) {
	if md5hex == "" && sha256hex == "" {
		return true, nil
	}
	gotmd5, gotsha, err := HashReader(r)
	if err != nil {
		return false, err
	}
	if md5hex != "" && md5hex != gotmd5 {
		return false, nil
	}
	if sha256hex != "" && sha256hex != gotsha {
		return false, nil
	}
	return true, nil
}
