// Package archive packs a single document into a deflate compressed zip
// archive, the durable unit moved between pipeline stages, and reads it back.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// CorruptArchiveError reports an archive with no readable entry.
type CorruptArchiveError struct {
	Reason string
	Err    error
}

func (e *CorruptArchiveError) Error() string {
	if e.Err == nil {
		return "corrupt archive: " + e.Reason
	}
	return fmt.Sprintf("corrupt archive: %s: %v", e.Reason, e.Err)
}

func (e *CorruptArchiveError) Unwrap() error { return e.Err }

// Pack writes data as the only entry of a new archive at maximum
// compression and returns the archive bytes.
func Pack(name string, data []byte) ([]byte, error) {
	if name == "" {
		return nil, errors.New("archive: entry name is required")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: create entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("archive: write entry %s: %w", name, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("archive: close: %w", err)
	}
	return buf.Bytes(), nil
}

// Unpack returns the name and content of the first entry of an archive.
func Unpack(b []byte) (string, []byte, error) {
	if len(b) == 0 {
		return "", nil, &CorruptArchiveError{Reason: "empty input"}
	}

	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", nil, &CorruptArchiveError{Reason: "unreadable", Err: err}
	}
	if len(zr.File) == 0 {
		return "", nil, &CorruptArchiveError{Reason: "no entries"}
	}

	f := zr.File[0]
	rc, err := f.Open()
	if err != nil {
		return "", nil, &CorruptArchiveError{Reason: "open entry " + f.Name, Err: err}
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", nil, &CorruptArchiveError{Reason: "read entry " + f.Name, Err: err}
	}
	return f.Name, data, nil
}
