// Package tiler turns (level, col, row) addresses into encoded tile images
// by reading slide regions and resampling them to tile geometry.
package tiler

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/wsiviewer/api/internal/dzi"
	"github.com/wsiviewer/api/internal/slide"
	"github.com/wsiviewer/api/internal/tilecache"
)

// TileError is a tile generation failure carrying the address it happened at.
type TileError struct {
	Key tilecache.TileKey
	Err error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("generate tile %s: %v", e.Key, e.Err)
}

func (e *TileError) Unwrap() error {
	return e.Err
}

// Generator produces tiles for one slide according to a pyramid plan. Region
// reads on the shared handle are serialized behind a mutex because decoders
// are not promised safe for concurrent reads; the resample and encode steps
// run outside the lock so they can fan out across workers.
type Generator struct {
	slide   string
	src     slide.Slide
	plan    *dzi.PyramidPlan
	format  string
	quality int

	readMu sync.Mutex
}

func New(slideID string, src slide.Slide, plan *dzi.PyramidPlan, format string, quality int) *Generator {
	return &Generator{
		slide:   slideID,
		src:     src,
		plan:    plan,
		format:  format,
		quality: quality,
	}
}

// Tile reads, resamples, and encodes one tile. The source rectangle is the
// tile's level rectangle scaled up by the level's downsample factor, and the
// reader returns it already reduced, so coarse levels stay cheap. Safe to
// call concurrently for distinct tiles.
func (g *Generator) Tile(ctx context.Context, level, col, row int) ([]byte, error) {
	key := tilecache.TileKey{Slide: g.slide, Level: level, Col: col, Row: row, Format: g.format}

	rect, ok := g.plan.TileBounds(level, col, row)
	if !ok {
		return nil, &TileError{Key: key, Err: fmt.Errorf("tile out of range")}
	}
	ds := g.plan.Downsample(level)

	slideW, slideH := g.src.Dimensions()
	sx := rect.Min.X * int(ds)
	sy := rect.Min.Y * int(ds)
	sw := rect.Dx() * int(ds)
	sh := rect.Dy() * int(ds)
	// The coarsest levels of a non-square pyramid can overshoot the real
	// boundary after scaling; clip, never pad.
	if sx+sw > slideW {
		sw = slideW - sx
	}
	if sy+sh > slideH {
		sh = slideH - sy
	}
	if sw <= 0 || sh <= 0 {
		return nil, &TileError{Key: key, Err: fmt.Errorf("empty source region")}
	}

	g.readMu.Lock()
	img, err := g.src.ReadRegion(ctx, sx, sy, sw, sh, float64(ds))
	g.readMu.Unlock()
	if err != nil {
		return nil, &TileError{Key: key, Err: err}
	}

	if img.Bounds().Dx() != rect.Dx() || img.Bounds().Dy() != rect.Dy() {
		img = imaging.Resize(img, rect.Dx(), rect.Dy(), imaging.Box)
	}

	data, err := encode(img, g.format, g.quality)
	if err != nil {
		return nil, &TileError{Key: key, Err: err}
	}
	return data, nil
}

func encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "jpeg":
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, err
		}
	case "png":
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported tile format %q", format)
	}
	return buf.Bytes(), nil
}
