package manifest

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/umcneuro/cohanon/util"
)

// bagVersion is the BagIt specification version the export bags declare.
const bagVersion = "0.97"

// A bagFile is one payload file together with the digests the
// manifests list for it.
type bagFile struct {
	relpath string // slash separated, without the data/ prefix
	md5     string
	sha256  string
}

// WriteBag serialises the finished dataset under root into w as a
// BagIt zip named name. Every file below root lands under data/, and
// MD5 and SHA256 manifests cover the payload, so the receiving site
// can verify the handoff with standard bagit tooling. The zip stores
// entries uncompressed; recordings barely compress anyway.
func WriteBag(w io.Writer, root, name string) error {
	z := zip.NewWriter(w)
	var (
		files []bagFile
		size  int64
	)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		bf, err := addPayload(z, name, filepath.ToSlash(rel), path)
		if err != nil {
			return err
		}
		files = append(files, bf)
		size += info.Size()
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "bagging %s", root)
	}
	if len(files) == 0 {
		return errors.Errorf("bagging %s: nothing under it", root)
	}
	if err := writeTagFiles(z, name, files, size); err != nil {
		return errors.Wrapf(err, "bagging %s", root)
	}
	return errors.Wrapf(z.Close(), "bagging %s", root)
}

// addPayload streams one source file into the bag and returns its
// manifest entry.
func addPayload(z *zip.Writer, bagname, rel, path string) (bagFile, error) {
	in, err := os.Open(path)
	if err != nil {
		return bagFile{}, err
	}
	defer in.Close()
	out, err := z.CreateHeader(&zip.FileHeader{
		Name:     bagname + "/data/" + rel,
		Method:   zip.Store,
		Modified: time.Now(),
	})
	if err != nil {
		return bagFile{}, err
	}
	hw := util.NewHashWriter(out)
	if _, err := io.Copy(hw, in); err != nil {
		return bagFile{}, err
	}
	return bagFile{relpath: rel, md5: hw.HexMD5(), sha256: hw.HexSHA256()}, nil
}

// writeTagFiles writes the control files and manifests, then the tag
// manifest covering them.
func writeTagFiles(z *zip.Writer, name string, files []bagFile, size int64) error {
	tagfiles := []struct {
		fname   string
		content string
	}{
		{"bagit.txt", "BagIt-Version: " + bagVersion + "\nTag-File-Character-Encoding: UTF-8\n"},
		{"bag-info.txt", baginfo(size, len(files))},
		{"manifest-md5.txt", manifestLines(files, func(f bagFile) string { return f.md5 })},
		{"manifest-sha256.txt", manifestLines(files, func(f bagFile) string { return f.sha256 })},
	}
	var tagsums strings.Builder
	for _, tf := range tagfiles {
		sum, err := writeTag(z, name, tf.fname, tf.content)
		if err != nil {
			return err
		}
		fmt.Fprintf(&tagsums, "%s  %s\n", sum, tf.fname)
	}
	_, err := writeTag(z, name, "tagmanifest-md5.txt", tagsums.String())
	return err
}

func writeTag(z *zip.Writer, bagname, fname, content string) (string, error) {
	out, err := z.CreateHeader(&zip.FileHeader{
		Name:     bagname + "/" + fname,
		Method:   zip.Store,
		Modified: time.Now(),
	})
	if err != nil {
		return "", err
	}
	hw := util.NewHashWriter(out)
	if _, err := io.WriteString(hw, content); err != nil {
		return "", err
	}
	return hw.HexMD5(), nil
}

// manifestLines renders one manifest. The two spaces match the GNU
// md5sum output format.
func manifestLines(files []bagFile, hash func(bagFile) string) string {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "%s  data/%s\n", hash(f), f.relpath)
	}
	return b.String()
}

func baginfo(size int64, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bag-Size: %s\n", humansize(size))
	fmt.Fprintf(&b, "Bagging-Date: %s\n", time.Now().Format("2006-01-02"))
	fmt.Fprintf(&b, "Payload-Oxum: %d.%d\n", size, count)
	return b.String()
}

const (
	kb int64 = 1000
	mb       = 1000 * kb
	gb       = 1000 * mb
	tb       = 1000 * gb
)

func humansize(size int64) string {
	var units string
	switch {
	case size < kb:
		units = "Bytes"
	case size < mb:
		size /= kb
		units = "KB"
	case size < gb:
		size /= mb
		units = "MB"
	case size < tb:
		size /= gb
		units = "GB"
	default:
		size /= tb
		units = "TB"
	}
	return fmt.Sprintf("%d %s", size, units)
}
