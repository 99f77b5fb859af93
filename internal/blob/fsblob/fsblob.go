// Package fsblob implements blob.Store on a local directory through
// gocloud.dev fileblob. Each container is a subdirectory of the root.
package fsblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	gcblob "gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"

	"github.com/linnemanlabs/capetl/internal/blob"
)

// Store keeps objects as files under one fileblob bucket. Container and
// path join into the bucket key.
type Store struct {
	bucket *gcblob.Bucket
}

// New returns a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	b, err := fileblob.OpenBucket(dir, &fileblob.Options{
		CreateDir: true,
		// temp files next to the target keep the rename on one filesystem
		NoTempDir: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open blob root %s: %w", dir, err)
	}
	return &Store{bucket: b}, nil
}

// Close releases the bucket.
func (s *Store) Close() error { return s.bucket.Close() }

func validContainer(c string) bool {
	return c != "" && !strings.Contains(c, "/")
}

func key(loc blob.Locator) (string, error) {
	k := path.Join(loc.Container, loc.Path)
	if !validContainer(loc.Container) || !filepath.IsLocal(filepath.FromSlash(k)) {
		return "", fmt.Errorf("%w %q", blob.ErrInvalidLocator, loc)
	}
	return k, nil
}

func mapErr(op string, loc blob.Locator, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%s %s: %w", op, loc, blob.ErrNotFound)
	}
	return &blob.StoreUnavailableError{Op: op, Locator: loc.String(), Err: err}
}

func (s *Store) Get(ctx context.Context, loc blob.Locator) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k, err := key(loc)
	if err != nil {
		return nil, err
	}
	b, err := s.bucket.ReadAll(ctx, k)
	if err != nil {
		return nil, mapErr("get", loc, err)
	}
	return b, nil
}

// Put is atomic: readers never observe a partial object.
func (s *Store) Put(ctx context.Context, loc blob.Locator, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, err := key(loc)
	if err != nil {
		return err
	}
	if err := s.bucket.WriteAll(ctx, k, data, nil); err != nil {
		return &blob.StoreUnavailableError{Op: "put", Locator: loc.String(), Err: err}
	}
	return nil
}

func (s *Store) Copy(ctx context.Context, src, dst blob.Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sk, err := key(src)
	if err != nil {
		return err
	}
	dk, err := key(dst)
	if err != nil {
		return err
	}
	if err := s.bucket.Copy(ctx, dk, sk, nil); err != nil {
		return mapErr("copy", src, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix blob.Locator) ([]blob.Locator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validContainer(prefix.Container) {
		return nil, fmt.Errorf("%w: container %q", blob.ErrInvalidLocator, prefix.Container)
	}
	base := prefix.Container + "/"

	var out []blob.Locator
	iter := s.bucket.List(&gcblob.ListOptions{Prefix: base + prefix.Path})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &blob.StoreUnavailableError{Op: "list", Locator: prefix.String(), Err: err}
		}
		if obj.IsDir {
			continue
		}
		out = append(out, prefix.In(strings.TrimPrefix(obj.Key, base)))
	}
	return out, nil
}
