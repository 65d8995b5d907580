package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
)

// An S3 store keeps a delivered dataset in an S3 bucket. Since keys
// are slash paths already, the dataset layout carries over into the
// key space unchanged.
// Do not change Bucket or Prefix concurrently with calls using the
// structure.
type S3 struct {
	svc    *s3.S3
	Bucket string
	Prefix string
}

var _ Store = &S3{}

// NewS3 creates a new S3 store on the given bucket, prepending prefix
// to all keys so one bucket can hold several stores. With prefix
// "exports/", Open("site/rec.eeg") reads the key
// "exports/site/rec.eeg". The credentials in the session are used for
// all accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		svc:    s3.New(awsSession),
	}
}

// List returns a channel over all the keys in this store. Only keys
// under the store's Prefix are returned, so it is safe to use on a
// bucket holding other data.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(s.Bucket),
			Prefix: aws.String(s.Prefix),
		}
		err := s.svc.ListObjectsV2Pages(input,
			func(page *s3.ListObjectsV2Output, lastpage bool) bool {
				for _, item := range page.Contents {
					out <- strings.TrimPrefix(*item.Key, s.Prefix)
				}
				return !lastpage
			})
		if err != nil {
			log.Println("S3 List:", s.Prefix, err)
			raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix})
		}
	}()
	return out
}

// ListPrefix returns the keys in this store that have the given
// prefix. The argument prefix is added to the store's Prefix.
func (s *S3) ListPrefix(prefix string) ([]string, error) {
	var result []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix + prefix),
	}
	err := s.svc.ListObjectsV2Pages(input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, item := range page.Contents {
				result = append(result, strings.TrimPrefix(*item.Key, s.Prefix))
			}
			return !lastpage
		})
	if err != nil {
		log.Println("S3 ListPrefix:", s.Prefix, prefix, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Pattern": prefix})
	}
	return result, err
}

// Open returns a ReadAtCloser for the content of the given key. Data
// is paged in as needed, so verifying only a header costs one ranged
// GET instead of the whole recording.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	// check that the key exists, and if so get its size
	size, err := s.stat(key)
	if err != nil {
		return nil, 0, err
	}
	result := &s3ReadAtCloser{
		svc:    s.svc,
		bucket: s.Bucket,
		key:    s.Prefix + key,
		size:   size,
	}
	return result, size, nil
}

// Create returns a WriteCloser to upload content under the given key.
// Data is batched and uploaded using the multipart interface, with
// growing part sizes, so even a long monitoring recording stays within
// the part count limits.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	err := validKey(key)
	if err != nil {
		return nil, err
	}
	_, err = s.stat(key)
	if err == nil {
		return nil, ErrKeyExists
	} else if err != ErrNotExist {
		return nil, err
	}
	return &s3WriteCloser{
		svc:    s.svc,
		bucket: s.Bucket,
		key:    s.Prefix + key,
	}, nil
}

// Delete removes the given key from the store. The store's Prefix is
// prepended first. It is not an error to delete something that doesn't
// exist.
func (s *S3) Delete(key string) error {
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		log.Println("S3 Delete:", s.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Key": key})
	}
	return err
}

// stat checks whether a key exists, and if so returns its size. The
// store's Prefix is added to the key first. A missing key returns
// ErrNotExist.
func (s *S3) stat(key string) (int64, error) {
	input := &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	}
	info, err := s.svc.HeadObject(input)
	if err != nil {
		if e, ok := err.(awserr.RequestFailure); ok && e.StatusCode() == http.StatusNotFound {
			return 0, ErrNotExist
		}
		return 0, err
	}
	return *info.ContentLength, nil
}

// s3ReadAtCloser adapts ranged GETs into the ReadAt interface, keeping
// a small LRU cache of downloaded pages. In the expected case of a
// sequential read through a recording the pages are disjoint, but
// pages can start at any offset and may overlap.
//
// It is not safe to use from more than one goroutine.
type s3ReadAtCloser struct {
	svc    *s3.S3
	bucket string
	key    string
	pages  []s3Page // cache of data we've downloaded
	size   int64
}

type s3Page struct {
	data   []byte
	offset int64
}

// ReadAt implements the io.ReaderAt interface.
func (rac *s3ReadAtCloser) ReadAt(p []byte, offset int64) (int, error) {
	var err error
	startOffset := offset
	for len(p) > 0 {
		if offset >= rac.size {
			break
		}
		var page s3Page
		page, err = rac.getpage(offset)
		if err != nil {
			// don't return yet, in case we copied some data in a
			// previous loop
			break
		}
		n := copy(p, page.data[offset-page.offset:])
		p = p[n:]
		offset += int64(n)
	}
	// If we copied data and have an EOF, don't return the EOF yet.
	// Conversely if we did not end up copying any data and there is no
	// error, assume we reached the end and return EOF.
	if err == io.EOF && startOffset != offset {
		err = nil
	} else if err == nil && startOffset == offset {
		err = io.EOF
	}
	return int(offset - startOffset), err
}

// The number of pages kept in the cache. After this the LRU is evicted.
const defaultNumPages = 5

// getpage finds in memory or loads the page covering the given offset.
func (rac *s3ReadAtCloser) getpage(offset int64) (s3Page, error) {
	i := rac.findpage(offset)
	if i == -1 {
		// page was not found, try to get it
		page, err := rac.loadpage(offset)
		if err != nil {
			return s3Page{}, err
		}
		// if the cache is not too big yet, add it to the end,
		// otherwise replace the last entry with it
		if len(rac.pages) < defaultNumPages {
			rac.pages = append(rac.pages, page)
		}
		i = len(rac.pages) - 1
		rac.pages[i] = page
	}
	page := rac.pages[i]
	if i > 0 {
		// move page to front of cache
		copy(rac.pages[1:], rac.pages[:i])
		rac.pages[0] = page
	}
	return page, nil
}

// findpage returns the index of the cached page holding the byte at
// offset, or -1.
func (rac *s3ReadAtCloser) findpage(offset int64) int {
	for i, page := range rac.pages {
		base := page.offset
		limit := base + int64(len(page.data))
		if base <= offset && offset < limit {
			return i
		}
	}
	return -1
}

const defaultPageSize = 10 * 1024 * 1024 // 10 MiB

// loadpage reads one page of data. It tries to read defaultPageSize
// bytes, but less may come back at the end of the object. The starting
// offset is rounded down to a multiple of defaultPageSize so loaded
// pages are disjoint.
func (rac *s3ReadAtCloser) loadpage(offset int64) (s3Page, error) {
	startpos := (offset / defaultPageSize) * defaultPageSize
	endpos := startpos + defaultPageSize
	input := &s3.GetObjectInput{
		Bucket: aws.String(rac.bucket),
		Key:    aws.String(rac.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", startpos, endpos-1)),
	}
	output, err := rac.svc.GetObject(input)
	if err != nil {
		log.Println("S3 loadpage:", rac.key, offset, err)
		// an invalid range error means we have gone off the end
		e, ok := err.(awserr.RequestFailure)
		if ok && e.StatusCode() == http.StatusRequestedRangeNotSatisfiable {
			err = io.EOF
		}
		return s3Page{}, err
	}
	data := &bytes.Buffer{}
	n, err := io.Copy(data, output.Body)
	output.Body.Close()
	if n == 0 && err == nil {
		// nothing was transferred and there was no error...?
		err = io.EOF
	}
	return s3Page{data: data.Bytes(), offset: startpos}, err
}

// Close will close this file.
func (rac *s3ReadAtCloser) Close() error {
	return nil
}

// s3WriteCloser uploads an object. If the whole file fits one buffer
// it does a single PUT, otherwise it switches to the multipart
// interface.
//
// We do not know the ultimate size of a recording while writing it, so
// the part sizes grow: part i is uploaded at min(a*2^i, b) bytes with
// a = 64 MB and b = 4 GB. Small files use small parts and a days long
// monitoring file still fits the 10000 part limit.
type s3WriteCloser struct {
	svc      *s3.S3
	bucket   string
	key      string
	buf      *bytes.Buffer // current buffer we are writing to
	isMulti  bool          // true if this is a multipart upload
	uploadID string        // the multipart id s3 gave us
	part     int           // the part we are filling (0-based. n.b. AWS is 1-based)
	etags    []string      // etags for uploaded parts, index i == etag for part i
	abort    bool          // true to abort the upload at close
}

// These are constants, but beware! The relationship that
// wcBaseSize << 6 == wcMaxSize is baked into the code below.
const (
	wcBaseSize = 64 * 1024 * 1024
	wcMaxSize  = 4 * 1024 * 1024 * 1024
)

var (
	// wcBufferPool holds spare buffers for uploading, shared between
	// all the s3WriteCloser instances.
	wcBufferPool sync.Pool

	// ErrNoETag means AWS did not return an ETag for an uploaded part.
	ErrNoETag = errors.New("no ETag was returned from AWS")
)

func (wc *s3WriteCloser) Write(p []byte) (int, error) {
	if wc.buf == nil {
		wc.buf = wc.getbuf()
	}
	n, err := wc.buf.Write(p)
	if n == 0 && err != nil {
		wc.abort = true
		return n, err
	}
	// see if this buffer is due to be uploaded
	lowerlimit := wcMaxSize
	if wc.part < 6 {
		lowerlimit = wcBaseSize << wc.part
	}
	if wc.buf.Len() > lowerlimit {
		err = wc.uploadpart(wc.part, wc.buf)
		wc.buf.Reset()
		if err != nil {
			wc.abort = true
			return 0, err
		}
		wc.part++
	}
	return n, nil
}

// Close flushes any temporary buffers and waits for everything to be
// uploaded. If there were any errors, now or during Write, the whole
// upload is abandoned.
func (wc *s3WriteCloser) Close() error {
	if wc.buf != nil {
		defer func() {
			wcBufferPool.Put(wc.buf)
			wc.buf = nil
		}()
	}

	// if we haven't started a multipart transaction yet, just send
	// what is in the buffer
	if !wc.isMulti {
		if wc.abort {
			return nil
		}
		return wc.uploadfull(wc.buf)
	}

	// should this multipart transaction be abandoned?
	var err error
abort:
	if wc.abort {
		_, err2 := wc.svc.AbortMultipartUpload(&s3.AbortMultipartUploadInput{
			Bucket:   aws.String(wc.bucket),
			Key:      aws.String(wc.key),
			UploadId: aws.String(wc.uploadID),
		})
		if err2 != nil {
			log.Println("S3 Abort Close:", wc.key, err2)
		}
		// if there was not a previous error, send whatever this one is
		if err == nil {
			err = err2
		}
		return err
	}

	// upload anything left in the buffer
	if wc.buf.Len() > 0 {
		err = wc.uploadpart(wc.part, wc.buf)
		if err != nil {
			wc.abort = true
			goto abort
		}
	}
	err = wc.finishMultipart()
	if err != nil {
		log.Println("S3 Complete Close:", wc.key, err)
	}
	return err
}

func (wc *s3WriteCloser) getbuf() *bytes.Buffer {
	b, ok := wcBufferPool.Get().(*bytes.Buffer)
	if !ok {
		b = &bytes.Buffer{}
		b.Grow(2 * wcBaseSize) // guess a beginning capacity
	}
	b.Reset()
	return b
}

func (wc *s3WriteCloser) startMultipart() error {
	if wc.isMulti {
		// already started one??
		return nil
	}
	result, err := wc.svc.CreateMultipartUpload(&s3.CreateMultipartUploadInput{
		Bucket: aws.String(wc.bucket),
		Key:    aws.String(wc.key),
	})
	if err != nil {
		log.Println("S3 startMultipart:", wc.key, err)
		raven.CaptureError(err, map[string]string{"Bucket": wc.bucket, "Key": wc.key})
		return err
	}
	wc.isMulti = true
	wc.uploadID = *result.UploadId
	return nil
}

func (wc *s3WriteCloser) finishMultipart() error {
	var completed []*s3.CompletedPart
	for i, etag := range wc.etags {
		completed = append(completed, &s3.CompletedPart{
			ETag:       aws.String(etag),
			PartNumber: aws.Int64(int64(i + 1)), // part numbers are 1-based
		})
	}
	_, err := wc.svc.CompleteMultipartUpload(
		&s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(wc.bucket),
			Key:      aws.String(wc.key),
			UploadId: aws.String(wc.uploadID),
			MultipartUpload: &s3.CompletedMultipartUpload{
				Parts: completed,
			},
		})
	return err
}

func (wc *s3WriteCloser) uploadpart(partno int, buf *bytes.Buffer) error {
	if !wc.isMulti {
		err := wc.startMultipart()
		if err != nil {
			return err
		}
	}
	input := &s3.UploadPartInput{
		Body:       bytes.NewReader(buf.Bytes()), // need Seek()
		Bucket:     aws.String(wc.bucket),
		Key:        aws.String(wc.key),
		PartNumber: aws.Int64(int64(partno + 1)), // parts are 1-based in AWS
		UploadId:   aws.String(wc.uploadID),
	}
	output, err := wc.svc.UploadPart(input)
	if err != nil {
		log.Println("S3 uploadpart:", wc.key, partno+1, err)
		return err
	}
	if output.ETag == nil {
		log.Println("S3 nil ETag for part", partno, "key=", wc.key)
		return ErrNoETag
	}
	wc.etags = append(wc.etags, *output.ETag)
	return nil
}

func (wc *s3WriteCloser) uploadfull(buf *bytes.Buffer) error {
	// buf can be nil here, when we are closed without any calls to
	// Write()
	source := &bytes.Reader{} // need Seek(), and bytes.Buffer doesn't have it
	if buf != nil {
		source.Reset(buf.Bytes())
	}
	input := &s3.PutObjectInput{
		Body:          source,
		Bucket:        aws.String(wc.bucket),
		Key:           aws.String(wc.key),
		ContentLength: aws.Int64(int64(source.Len())),
	}
	_, err := wc.svc.PutObject(input)
	if err != nil {
		log.Println("S3 uploadfull:", wc.key, err)
	}
	return err
}
