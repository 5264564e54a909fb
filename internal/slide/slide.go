// Package slide wraps the whole-slide image decoders behind a region-reader
// contract: open a handle, report dimensions and resolution metadata, and
// decode an arbitrary sub-rectangle at a requested downsample factor.
package slide

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat means the file extension is not on the allow-list.
	ErrUnsupportedFormat = errors.New("unsupported slide format")
	// ErrSourceUnavailable means the slide file is missing or unreadable.
	ErrSourceUnavailable = errors.New("slide source unavailable")
)

// allowedExtensions is the WSI extension allow-list. No content sniffing is
// done beyond this.
var allowedExtensions = map[string]bool{
	"svs":     true,
	"tif":     true,
	"tiff":    true,
	"vms":     true,
	"vmu":     true,
	"ndpi":    true,
	"scn":     true,
	"mrxs":    true,
	"svslide": true,
	"bif":     true,
}

// Supported reports whether the filename carries an allowed WSI extension.
func Supported(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	return ext != "" && allowedExtensions[ext]
}

// Extensions returns the allow-list, sorted order not guaranteed.
func Extensions() []string {
	out := make([]string, 0, len(allowedExtensions))
	for ext := range allowedExtensions {
		out = append(out, ext)
	}
	return out
}

// Properties carries optional resolution metadata. Zero values mean unknown.
type Properties struct {
	MPP            float64
	ObjectivePower float64
	Vendor         string
}

// Slide is an opened source image. The handle owns decoder resources and is
// closed by whichever operation opened it. ReadRegion takes the rectangle in
// full-resolution pixel coordinates and returns a buffer already reduced by
// the downsample factor, so coarse levels never decode full-resolution data.
//
// Implementations do not promise thread safety for concurrent region reads;
// callers serialize access per handle.
type Slide interface {
	Dimensions() (width, height int)
	Properties() Properties
	ReadRegion(ctx context.Context, x, y, width, height int, downsample float64) (image.Image, error)
	Close() error
}

// Open opens a slide file, dispatching on the extension allow-list. All
// allowed formats currently route to the TIFF-based reader; vendor formats
// that are TIFF containers (svs, ndpi, scn, bif) decode through it as well.
func Open(path string) (Slide, error) {
	if !Supported(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return openTIFF(path)
}
