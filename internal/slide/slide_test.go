package slide

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/tiff"
)

func TestSupported(t *testing.T) {
	supported := []string{
		"slide.svs", "scan.tif", "scan.tiff", "s.ndpi", "s.scn",
		"s.mrxs", "s.vms", "s.vmu", "s.svslide", "s.bif",
		"UPPER.SVS", "/some/dir/nested.tiff",
	}
	for _, name := range supported {
		if !Supported(name) {
			t.Errorf("Supported(%q) = false, want true", name)
		}
	}

	unsupported := []string{"photo.jpeg", "doc.pdf", "archive.zip", "noext", "trailing.", ""}
	for _, name := range unsupported {
		if Supported(name) {
			t.Errorf("Supported(%q) = true, want false", name)
		}
	}
}

func TestExtensions(t *testing.T) {
	exts := Extensions()
	if len(exts) != len(allowedExtensions) {
		t.Fatalf("Extensions returned %d entries, want %d", len(exts), len(allowedExtensions))
	}
	for _, ext := range exts {
		if !allowedExtensions[ext] {
			t.Errorf("Extensions leaked unknown entry %q", ext)
		}
	}
}

func TestOpen_UnsupportedFormat(t *testing.T) {
	_, err := Open("slide.jpeg")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.svs"))
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestOpen_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.tiff")
	if err := os.WriteFile(path, []byte("not a tiff"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}

// writeTestTIFF renders a 600x450 image with a red left half and a blue right
// half and stores it as an uncompressed TIFF.
func writeTestTIFF(t *testing.T) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 600, 450))
	for y := 0; y < 450; y++ {
		for x := 0; x < 600; x++ {
			if x < 300 {
				img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
			} else {
				img.SetNRGBA(x, y, color.NRGBA{B: 255, A: 255})
			}
		}
	}

	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test tiff: %v", err)
	}
	path := filepath.Join(t.TempDir(), "sample.tiff")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTIFF_Dimensions(t *testing.T) {
	s, err := Open(writeTestTIFF(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	w, h := s.Dimensions()
	if w != 600 || h != 450 {
		t.Errorf("dimensions = %dx%d, want 600x450", w, h)
	}
}

func TestTIFF_ReadRegion(t *testing.T) {
	s, err := Open(writeTestTIFF(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()

	// Full-resolution read of the blue half.
	img, err := s.ReadRegion(ctx, 300, 0, 300, 450, 1)
	if err != nil {
		t.Fatalf("ReadRegion failed: %v", err)
	}
	if img.Bounds().Dx() != 300 || img.Bounds().Dy() != 450 {
		t.Fatalf("region is %dx%d, want 300x450", img.Bounds().Dx(), img.Bounds().Dy())
	}
	_, _, b, _ := img.At(img.Bounds().Min.X+10, img.Bounds().Min.Y+10).RGBA()
	if b < 0xf000 {
		t.Errorf("expected blue region, got blue channel %d", b)
	}

	// Downsampled read returns a reduced buffer.
	img, err = s.ReadRegion(ctx, 0, 0, 600, 450, 2)
	if err != nil {
		t.Fatalf("downsampled ReadRegion failed: %v", err)
	}
	if img.Bounds().Dx() != 300 || img.Bounds().Dy() != 225 {
		t.Errorf("downsampled region is %dx%d, want 300x225", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestTIFF_ReadRegion_Invalid(t *testing.T) {
	s, err := Open(writeTestTIFF(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if _, err := s.ReadRegion(ctx, 0, 0, 0, 100, 1); err == nil {
		t.Error("expected error for zero-width region")
	}
	if _, err := s.ReadRegion(ctx, 0, 0, 100, 100, 0.5); err == nil {
		t.Error("expected error for downsample below 1")
	}
	if _, err := s.ReadRegion(ctx, 10000, 10000, 100, 100, 1); err == nil {
		t.Error("expected error for region outside slide bounds")
	}
}

func TestTIFF_ReadRegion_Cancelled(t *testing.T) {
	s, err := Open(writeTestTIFF(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.ReadRegion(ctx, 0, 0, 100, 100, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
