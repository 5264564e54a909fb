package slide

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"sort"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
)

// tiffSlide reads pyramidal (multi-page) and plain TIFF files. All pages are
// decoded up front; pages are treated as pre-built pyramid levels sorted from
// finest to coarsest, the way SVS-style containers lay them out.
type tiffSlide struct {
	pages  []image.Image // sorted by width, descending
	width  int
	height int
}

func openTIFF(path string) (Slide, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer f.Close()

	decoded, pageErrs, err := tiff.DecodeAll(f)
	if err != nil && len(decoded) == 0 {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrSourceUnavailable, path, err)
	}

	var pages []image.Image
	for i := range decoded {
		for j := range decoded[i] {
			if pageErrs[i][j] != nil || decoded[i][j] == nil {
				continue
			}
			pages = append(pages, decoded[i][j])
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no decodable pages in %s", ErrSourceUnavailable, path)
	}

	sort.Slice(pages, func(a, b int) bool {
		return pages[a].Bounds().Dx() > pages[b].Bounds().Dx()
	})

	base := pages[0].Bounds()
	return &tiffSlide{
		pages:  pages,
		width:  base.Dx(),
		height: base.Dy(),
	}, nil
}

func (s *tiffSlide) Dimensions() (int, int) {
	return s.width, s.height
}

func (s *tiffSlide) Properties() Properties {
	// Plain TIFF carries no vendor resolution tags we interpret.
	return Properties{Vendor: "generic-tiff"}
}

// ReadRegion decodes the requested full-resolution rectangle reduced by the
// downsample factor. It crops from the coarsest stored page that is still at
// least as fine as the target, then resamples the crop to the exact target
// size with a box filter.
func (s *tiffSlide) ReadRegion(ctx context.Context, x, y, width, height int, downsample float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 || downsample < 1 {
		return nil, fmt.Errorf("invalid region %dx%d at downsample %g", width, height, downsample)
	}

	page, pageDS := s.bestPage(downsample)

	// Region rectangle in the chosen page's coordinates.
	px0 := int(math.Floor(float64(x) / pageDS))
	py0 := int(math.Floor(float64(y) / pageDS))
	px1 := int(math.Ceil(float64(x+width) / pageDS))
	py1 := int(math.Ceil(float64(y+height) / pageDS))

	crop := imaging.Crop(page, image.Rect(px0, py0, px1, py1).Intersect(page.Bounds()))
	if crop.Bounds().Empty() {
		return nil, fmt.Errorf("region %d,%d %dx%d outside slide bounds", x, y, width, height)
	}

	targetW := int(math.Round(float64(width) / downsample))
	targetH := int(math.Round(float64(height) / downsample))
	if targetW < 1 {
		targetW = 1
	}
	if targetH < 1 {
		targetH = 1
	}
	if crop.Bounds().Dx() == targetW && crop.Bounds().Dy() == targetH {
		return crop, nil
	}
	return imaging.Resize(crop, targetW, targetH, imaging.Box), nil
}

// bestPage picks the stored page whose own downsample is the largest one not
// exceeding the requested factor, so we never upsample stored data.
func (s *tiffSlide) bestPage(downsample float64) (image.Image, float64) {
	best := s.pages[0]
	bestDS := 1.0
	for _, p := range s.pages {
		ds := float64(s.width) / float64(p.Bounds().Dx())
		if ds <= downsample+1e-9 && ds > bestDS {
			best = p
			bestDS = ds
		}
	}
	return best, bestDS
}

func (s *tiffSlide) Close() error {
	s.pages = nil
	return nil
}
