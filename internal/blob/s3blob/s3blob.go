// Package s3blob implements blob.Store on Amazon S3. Containers are buckets.
package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/linnemanlabs/capetl/internal/blob"
)

// API is the subset of the S3 client used by the store.
type API interface {
	GetObjectWithContext(aws.Context, *s3.GetObjectInput, ...request.Option) (*s3.GetObjectOutput, error)
	CopyObjectWithContext(aws.Context, *s3.CopyObjectInput, ...request.Option) (*s3.CopyObjectOutput, error)
	ListObjectsV2PagesWithContext(aws.Context, *s3.ListObjectsV2Input, func(*s3.ListObjectsV2Output, bool) bool, ...request.Option) error
}

// Uploader is the subset of s3manager.Uploader used by Put.
type Uploader interface {
	UploadWithContext(aws.Context, *s3manager.UploadInput, ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// Store talks to S3 through an API client and a multipart uploader.
type Store struct {
	api      API
	uploader Uploader
}

// New builds a store from an AWS session or other client config provider.
func New(p client.ConfigProvider) *Store {
	return NewWithClients(s3.New(p), s3manager.NewUploader(p))
}

// NewWithClients builds a store from explicit clients.
func NewWithClients(api API, uploader Uploader) *Store {
	return &Store{api: api, uploader: uploader}
}

func (s *Store) Get(ctx context.Context, loc blob.Locator) ([]byte, error) {
	out, err := s.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Container),
		Key:    aws.String(loc.Path),
	})
	if err != nil {
		return nil, wrap("get", loc, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &blob.StoreUnavailableError{Op: "get", Locator: loc.String(), Err: err}
	}
	return b, nil
}

func (s *Store) Put(ctx context.Context, loc blob.Locator, data []byte) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(loc.Container),
		Key:         aws.String(loc.Path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(loc.Path)),
	})
	if err != nil {
		return wrap("put", loc, err)
	}
	return nil
}

func (s *Store) Copy(ctx context.Context, src, dst blob.Locator) error {
	_, err := s.api.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dst.Container),
		Key:        aws.String(dst.Path),
		CopySource: aws.String(copySource(src)),
	})
	if err != nil {
		return wrap("copy", src, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix blob.Locator) ([]blob.Locator, error) {
	var out []blob.Locator
	err := s.api.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(prefix.Container),
		Prefix: aws.String(prefix.Path),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			out = append(out, prefix.In(aws.StringValue(obj.Key)))
		}
		return true
	})
	if err != nil {
		return nil, wrap("list", prefix, err)
	}
	return out, nil
}

// copySource escapes each path segment of src for the x-amz-copy-source header.
func copySource(src blob.Locator) string {
	segs := strings.Split(src.String(), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".zip"):
		return "application/zip"
	case strings.HasSuffix(key, ".csv"):
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

func wrap(op string, loc blob.Locator, err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return fmt.Errorf("%s %s: %w", op, loc, blob.ErrNotFound)
		}
	}
	return &blob.StoreUnavailableError{Op: op, Locator: loc.String(), Err: err}
}
