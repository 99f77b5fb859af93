package archive

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
)

func TestPackUnpack_RoundTrip(t *testing.T) {
	t.Parallel()

	payload := []byte(strings.Repeat("<alert><identifier>x</identifier></alert>", 200))
	b, err := Pack("alerts.xml", payload)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if len(b) >= len(payload) {
		t.Errorf("archive size %d not smaller than payload %d", len(b), len(payload))
	}

	name, got, err := Unpack(b)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if name != "alerts.xml" {
		t.Errorf("name = %q, want alerts.xml", name)
	}
	if !bytes.Equal(got, payload) {
		t.Error("unpacked content differs from packed content")
	}
}

func TestPack_SingleDeflateEntry(t *testing.T) {
	t.Parallel()

	b, err := Pack("beacon_dump", []byte(`{"identifier":"x"}`))
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	if len(zr.File) != 1 {
		t.Fatalf("entries = %d, want 1", len(zr.File))
	}
	if zr.File[0].Method != zip.Deflate {
		t.Errorf("method = %d, want deflate", zr.File[0].Method)
	}
}

func TestPack_RequiresName(t *testing.T) {
	t.Parallel()

	if _, err := Pack("", []byte("x")); err == nil {
		t.Fatal("expected error for empty entry name")
	}
}

func TestUnpack_Corrupt(t *testing.T) {
	t.Parallel()

	var empty bytes.Buffer
	zw := zip.NewWriter(&empty)
	if err := zw.Close(); err != nil {
		t.Fatalf("close empty archive: %v", err)
	}

	tests := []struct {
		name string
		in   []byte
	}{
		{"nil", nil},
		{"garbage", []byte("definitely not a zip archive")},
		{"no entries", empty.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := Unpack(tt.in)
			var ce *CorruptArchiveError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want CorruptArchiveError", err)
			}
		})
	}
}
