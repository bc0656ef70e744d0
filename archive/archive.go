/*
Package archive disposes of report files once they are loaded.

ARCHIVERS:
  Rename: <name>.xlsx -> <name>.xlsx.processed, so the next run's glob
          no longer picks it up
  S3:     uploads a copy to <bucket>/<prefix><name>
  Chain:  runs archivers in order; each sees the path left by the last

An archive failure never undoes a load. The ledger entry is already
committed, so the next run skips the file anyway.
*/
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// ProcessedSuffix is appended to loaded files by Rename.
const ProcessedSuffix = ".processed"

// Archiver handles one loaded file and returns its path afterwards.
type Archiver interface {
	Archive(ctx context.Context, path string) (string, error)
}

// Nop leaves files in place.
type Nop struct{}

func (Nop) Archive(_ context.Context, path string) (string, error) { return path, nil }

// Rename marks loaded files by renaming them.
type Rename struct{}

func (Rename) Archive(_ context.Context, path string) (string, error) {
	dst := path + ProcessedSuffix
	if err := os.Rename(path, dst); err != nil {
		return path, fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return dst, nil
}

// Chain runs archivers in order and stops at the first error.
type Chain []Archiver

func (c Chain) Archive(ctx context.Context, path string) (string, error) {
	var err error
	for _, a := range c {
		if path, err = a.Archive(ctx, path); err != nil {
			return path, err
		}
	}
	return path, nil
}

// =============================================================================
// S3
// =============================================================================

// ObjectPutter is the subset of the S3 client used for uploads.
type ObjectPutter interface {
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// S3 uploads loaded files to a bucket.
type S3 struct {
	client       ObjectPutter
	bucket       string
	prefix       string
	storageClass string
}

// NewS3 returns an uploader using client.
func NewS3(client ObjectPutter, bucket, prefix, storageClass string) (*S3, error) {
	if bucket == "" {
		return nil, errors.New("s3 archive: bucket is required")
	}
	return &S3{client: client, bucket: bucket, prefix: prefix, storageClass: storageClass}, nil
}

// NewS3FromRegion builds an uploader with the default AWS credential chain.
func NewS3FromRegion(region, bucket, prefix, storageClass string) (*S3, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("s3 archive: create session: %w", err)
	}
	return NewS3(s3.New(sess), bucket, prefix, storageClass)
}

// Key returns the object key used for path.
func (a *S3) Key(path string) string {
	return a.prefix + filepath.Base(path)
}

func (a *S3) Archive(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return path, fmt.Errorf("s3 archive: %w", err)
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.Key(path)),
		Body:   f,
	}
	if a.storageClass != "" {
		input.StorageClass = aws.String(a.storageClass)
	}
	if _, err := a.client.PutObjectWithContext(ctx, input); err != nil {
		return path, fmt.Errorf("s3 archive %s: %w", filepath.Base(path), err)
	}
	return path, nil
}
