package tilecache

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTileRoundtrip(t *testing.T) {
	c := New(t.TempDir())
	key := TileKey{Slide: "sample", Level: 12, Col: 3, Row: 7, Format: "jpeg"}

	if _, err := c.ReadTile(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before write, got %v", err)
	}

	want := []byte("tile-bytes")
	if err := c.WriteTile(context.Background(), key, want); err != nil {
		t.Fatalf("WriteTile failed: %v", err)
	}

	got, err := c.ReadTile(key)
	if err != nil {
		t.Fatalf("ReadTile failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadTile = %q, want %q", got, want)
	}

	// The layout on disk is what a DeepZoom viewer expects.
	path := filepath.Join(c.Root(), "sample_files", "12", "3_7.jpeg")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected tile at %s: %v", path, err)
	}
}

func TestDescriptorRoundtrip(t *testing.T) {
	c := New(t.TempDir())

	if c.DescriptorExists("sample") {
		t.Fatal("descriptor should not exist before write")
	}
	if _, err := c.ReadDescriptor("sample"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	want := []byte("<Image/>")
	if err := c.WriteDescriptor(context.Background(), "sample", want); err != nil {
		t.Fatalf("WriteDescriptor failed: %v", err)
	}
	if !c.DescriptorExists("sample") {
		t.Error("descriptor should exist after write")
	}
	got, err := c.ReadDescriptor("sample")
	if err != nil {
		t.Fatalf("ReadDescriptor failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadDescriptor = %q, want %q", got, want)
	}
}

func TestHasAny(t *testing.T) {
	c := New(t.TempDir())

	if c.HasAny("sample") {
		t.Fatal("HasAny should be false for an unknown slide")
	}

	key := TileKey{Slide: "sample", Level: 0, Col: 0, Row: 0, Format: "jpeg"}
	if err := c.WriteTile(context.Background(), key, []byte("x")); err != nil {
		t.Fatalf("WriteTile failed: %v", err)
	}
	if !c.HasAny("sample") {
		t.Error("HasAny should be true after one tile write")
	}
	if c.HasAny("other") {
		t.Error("HasAny must not leak across slides")
	}
}

func TestInvalidate(t *testing.T) {
	c := New(t.TempDir())
	key := TileKey{Slide: "sample", Level: 5, Col: 1, Row: 2, Format: "png"}

	if err := c.WriteTile(context.Background(), key, []byte("x")); err != nil {
		t.Fatalf("WriteTile failed: %v", err)
	}
	if err := c.WriteDescriptor(context.Background(), "sample", []byte("<Image/>")); err != nil {
		t.Fatalf("WriteDescriptor failed: %v", err)
	}

	if err := c.Invalidate("sample"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if c.DescriptorExists("sample") {
		t.Error("descriptor should be gone after Invalidate")
	}
	if c.HasAny("sample") {
		t.Error("tiles should be gone after Invalidate")
	}

	// Invalidating an absent slide is not an error.
	if err := c.Invalidate("sample"); err != nil {
		t.Errorf("repeated Invalidate failed: %v", err)
	}
}

func TestWritesRefusedAfterCancel(t *testing.T) {
	c := New(t.TempDir())
	key := TileKey{Slide: "sample", Level: 3, Col: 0, Row: 0, Format: "jpeg"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A write racing a deletion sees its cancelled context under the slide
	// lock and must not touch the filesystem.
	if err := c.WriteTile(ctx, key, []byte("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("WriteTile = %v, want context.Canceled", err)
	}
	if c.HasAny("sample") {
		t.Error("refused tile write must not create files")
	}

	if err := c.WriteDescriptor(ctx, "sample", []byte("<Image/>")); !errors.Is(err, context.Canceled) {
		t.Fatalf("WriteDescriptor = %v, want context.Canceled", err)
	}
	if c.DescriptorExists("sample") {
		t.Error("refused descriptor write must not create files")
	}
}

func TestWritesLeaveNoTempFiles(t *testing.T) {
	root := t.TempDir()
	c := New(root)

	key := TileKey{Slide: "sample", Level: 1, Col: 0, Row: 0, Format: "jpeg"}
	if err := c.WriteTile(context.Background(), key, []byte("x")); err != nil {
		t.Fatalf("WriteTile failed: %v", err)
	}
	if err := c.WriteDescriptor(context.Background(), "sample", []byte("<Image/>")); err != nil {
		t.Fatalf("WriteDescriptor failed: %v", err)
	}

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.Contains(info.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
}

func TestCopyFrom(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "nested", "staged.svs")
	want := []byte("slide-content")

	if err := CopyFrom(dst, bytes.NewReader(want)); err != nil {
		t.Fatalf("CopyFrom failed: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("staged content = %q, want %q", got, want)
	}
}

func TestTileKeyString(t *testing.T) {
	key := TileKey{Slide: "sample", Level: 12, Col: 3, Row: 7, Format: "jpeg"}
	if got := key.String(); got != "sample/12/3_7.jpeg" {
		t.Errorf("TileKey.String() = %q", got)
	}
}
