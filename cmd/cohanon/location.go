package main

import (
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"

	"github.com/umcneuro/cohanon/store"
)

// splitBucketPrefix separates a bucket name from a key prefix. The
// prefix comes back either empty or ending with a slash "/".
//
// examples:
//
//	"" -> ("", "")
//	"bucket" -> ("bucket", "")
//	"bucket/and/a/prefix" -> ("bucket", "and/a/prefix/")
func splitBucketPrefix(location string) (bucket, prefix string) {
	if location == "" {
		return
	}
	location = strings.TrimPrefix(location, "/")
	v := strings.SplitN(location, "/", 2)
	bucket = v[0]
	if len(v) > 1 {
		prefix = v[1]
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	return
}

// parselocation creates the store a dataset is delivered to. An empty
// location is a memory store, a bare path or a "file:" URL is a
// directory, and "s3:" names a bucket with an optional key prefix.
//
// examples:
//
//	/exports/datasets
//	file:/exports/datasets
//	s3:/bucket/prefix
//	s3://s3.example.org/bucket/prefix
func parselocation(location string) (store.Store, error) {
	if location == "" {
		return store.NewMemory(), nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing location %s", location)
	}
	switch u.Scheme {
	case "", "file":
		if err := os.MkdirAll(u.Path, 0755); err != nil {
			return nil, errors.Wrapf(err, "making location %s", location)
		}
		return store.NewFileSystem(u.Path), nil
	case "s3":
		conf := &aws.Config{}
		if u.Host != "" {
			conf.Endpoint = aws.String(u.Host)
			conf.Region = aws.String("us-east-1")
			// disable SSL for local development
			if strings.Contains(u.Host, "localhost") {
				conf.DisableSSL = aws.Bool(true)
				conf.S3ForcePathStyle = aws.Bool(true)
			}
		}
		bucket, prefix := splitBucketPrefix(u.Path)
		if bucket == "" {
			return nil, errors.Errorf("location %s has no bucket name", location)
		}
		return store.NewS3(bucket, prefix, session.New(conf)), nil
	}
	return nil, errors.Errorf("location %s has an unknown scheme", location)
}
