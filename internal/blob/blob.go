// Package blob defines the object storage contract the pipeline moves
// archives and staged tables through, plus the key layout of each stage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is wrapped by Get and Copy when the source object is absent.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidLocator is wrapped by ParseLocator.
	ErrInvalidLocator = errors.New("invalid locator")
)

// Store is an object store addressed by Locator.
type Store interface {
	Get(ctx context.Context, loc Locator) ([]byte, error)
	Put(ctx context.Context, loc Locator, data []byte) error
	Copy(ctx context.Context, src, dst Locator) error
	// List returns every object whose path starts with prefix.Path, in
	// lexical order.
	List(ctx context.Context, prefix Locator) ([]Locator, error)
}

// Locator names one object as {container}/{path}.
type Locator struct {
	Container string
	Path      string
}

// ParseLocator splits "bucket/some/key" at the first slash.
func ParseLocator(s string) (Locator, error) {
	container, p, ok := strings.Cut(strings.TrimPrefix(s, "/"), "/")
	if !ok || container == "" || p == "" {
		return Locator{}, fmt.Errorf("%w %q: want {container}/{path}", ErrInvalidLocator, s)
	}
	return Locator{Container: container, Path: p}, nil
}

func (l Locator) String() string { return l.Container + "/" + l.Path }

// Base is the last path element.
func (l Locator) Base() string { return path.Base(l.Path) }

// In returns a locator for p inside the same container.
func (l Locator) In(p string) Locator { return Locator{Container: l.Container, Path: p} }

// StoreUnavailableError reports an I/O failure talking to a blob store.
type StoreUnavailableError struct {
	Op      string
	Locator string
	Err     error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("blob store %s %s: %v", e.Op, e.Locator, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }
