// Package dzi implements DeepZoom pyramid geometry: level planning, tile
// grids, and the .dzi descriptor that marks a pyramid as complete.
package dzi

import (
	"errors"
	"image"
)

// ErrInvalidGeometry rejects non-positive slide dimensions or an unusable
// tiling configuration before any work starts.
var ErrInvalidGeometry = errors.New("invalid geometry")

// LevelSpec describes one resolution layer of the pyramid. Level 0 is the
// coarsest (single tile), the last level is native resolution.
type LevelSpec struct {
	Level   int
	Width   int
	Height  int
	Columns int
	Rows    int
}

// PyramidPlan is the full tiling plan for one slide. It is derived purely
// from the inputs of Plan and can be recomputed at any time.
type PyramidPlan struct {
	Width    int
	Height   int
	TileSize int
	Overlap  int
	Levels   []LevelSpec
}

// Plan computes the DeepZoom level stack for a slide. Level dimensions halve
// (rounding up) from native resolution down to 1x1, so the level count is
// ceil(log2(max(width, height))) + 1.
func Plan(width, height, tileSize, overlap int) (*PyramidPlan, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidGeometry
	}
	if tileSize <= 0 || overlap < 0 || overlap >= tileSize {
		return nil, ErrInvalidGeometry
	}

	levels := 1
	for m := max(width, height); m > 1; m = (m + 1) / 2 {
		levels++
	}

	p := &PyramidPlan{
		Width:    width,
		Height:   height,
		TileSize: tileSize,
		Overlap:  overlap,
		Levels:   make([]LevelSpec, levels),
	}

	w, h := width, height
	for lvl := levels - 1; lvl >= 0; lvl-- {
		p.Levels[lvl] = LevelSpec{
			Level:   lvl,
			Width:   w,
			Height:  h,
			Columns: (w + tileSize - 1) / tileSize,
			Rows:    (h + tileSize - 1) / tileSize,
		}
		w = (w + 1) / 2
		h = (h + 1) / 2
	}

	return p, nil
}

// MaxLevel returns the index of the native-resolution level.
func (p *PyramidPlan) MaxLevel() int {
	return len(p.Levels) - 1
}

// Downsample returns the factor between the given level and native
// resolution: 2^(maxLevel - level).
func (p *PyramidPlan) Downsample(level int) int64 {
	return 1 << uint(p.MaxLevel()-level)
}

// TotalTiles is the tile count across all levels, the denominator for
// conversion progress.
func (p *PyramidPlan) TotalTiles() int {
	total := 0
	for _, ls := range p.Levels {
		total += ls.Columns * ls.Rows
	}
	return total
}

// ValidTile reports whether (level, col, row) addresses a tile inside the
// plan's grids.
func (p *PyramidPlan) ValidTile(level, col, row int) bool {
	if level < 0 || level > p.MaxLevel() || col < 0 || row < 0 {
		return false
	}
	ls := p.Levels[level]
	return col < ls.Columns && row < ls.Rows
}

// TileBounds returns the pixel rectangle of a tile within its level,
// including the overlap border on interior edges and clipped at the level's
// real boundary. Edge tiles come out narrower or shorter, never padded.
func (p *PyramidPlan) TileBounds(level, col, row int) (image.Rectangle, bool) {
	if !p.ValidTile(level, col, row) {
		return image.Rectangle{}, false
	}
	ls := p.Levels[level]

	x0 := col * p.TileSize
	y0 := row * p.TileSize
	x1 := x0 + p.TileSize
	y1 := y0 + p.TileSize

	if col > 0 {
		x0 -= p.Overlap
	}
	if row > 0 {
		y0 -= p.Overlap
	}
	x1 += p.Overlap
	y1 += p.Overlap

	if x1 > ls.Width {
		x1 = ls.Width
	}
	if y1 > ls.Height {
		y1 = ls.Height
	}

	return image.Rect(x0, y0, x1, y1), true
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
