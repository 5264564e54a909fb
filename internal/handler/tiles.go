package handler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/wsiviewer/api/internal/tilecache"
	"github.com/wsiviewer/api/pkg/response"
)

// TileHandler serves descriptors and tiles straight from the disk cache. No
// placeholder tile is ever substituted for a missing one.
type TileHandler struct {
	cache *tilecache.Cache
}

func NewTileHandler(cache *tilecache.Cache) *TileHandler {
	return &TileHandler{cache: cache}
}

// Descriptor handles GET /api/dzi/:slide
// @Summary      Get DZI descriptor
// @Description  Pyramid metadata for a converted slide; 404 until conversion completes
// @Tags         Viewer
// @Produce      xml
// @Param        slide path string true "Slide name (with or without .dzi suffix)"
// @Success      200 {string} string "DZI XML"
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/dzi/{slide} [get]
func (h *TileHandler) Descriptor(c *fiber.Ctx) error {
	slideID := strings.TrimSuffix(c.Params("slide"), ".dzi")
	if slideID == "" {
		return response.ValidationError(c, "Slide name is required", nil)
	}

	data, err := h.cache.ReadDescriptor(slideID)
	if err != nil {
		if errors.Is(err, tilecache.ErrNotFound) {
			return response.NotFound(c, "DZI descriptor not found")
		}
		return response.StorageError(c, err.Error())
	}

	c.Set(fiber.HeaderContentType, "application/xml")
	return c.Send(data)
}

// Tile handles GET /api/tiles/:slide/:level/:tile
// where :tile is "{col}_{row}.{format}".
// @Summary      Get one tile
// @Description  Raw encoded tile bytes; 404 for out-of-range or not-yet-generated tiles
// @Tags         Viewer
// @Produce      png
// @Produce      jpeg
// @Param        slide path string true "Slide name"
// @Param        level path int    true "Pyramid level"
// @Param        tile  path string true "Tile address, e.g. 3_7.jpeg"
// @Success      200 {string} binary "Tile image"
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/tiles/{slide}/{level}/{tile} [get]
func (h *TileHandler) Tile(c *fiber.Ctx) error {
	slideID := c.Params("slide")
	level, err := c.ParamsInt("level")
	if err != nil || level < 0 {
		return response.ValidationError(c, "Invalid level", nil)
	}

	col, row, format, err := parseTileName(c.Params("tile"))
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	key := tilecache.TileKey{
		Slide:  slideID,
		Level:  level,
		Col:    col,
		Row:    row,
		Format: format,
	}
	data, err := h.cache.ReadTile(key)
	if err != nil {
		if errors.Is(err, tilecache.ErrNotFound) {
			return response.NotFound(c, "Tile not found")
		}
		return response.StorageError(c, err.Error())
	}

	c.Set(fiber.HeaderContentType, "image/"+format)
	return c.Send(data)
}

// parseTileName splits "{col}_{row}.{format}" into its parts. The whole
// address must parse; trailing garbage is rejected, not ignored.
func parseTileName(name string) (col, row int, format string, err error) {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return 0, 0, "", fmt.Errorf("invalid tile name %q", name)
	}
	format = name[dot+1:]
	if format != "jpeg" && format != "png" {
		return 0, 0, "", fmt.Errorf("unsupported tile format %q", format)
	}

	colStr, rowStr, ok := strings.Cut(name[:dot], "_")
	if !ok {
		return 0, 0, "", fmt.Errorf("invalid tile address %q", name)
	}
	col, colErr := strconv.Atoi(colStr)
	row, rowErr := strconv.Atoi(rowStr)
	if colErr != nil || rowErr != nil || col < 0 || row < 0 {
		return 0, 0, "", fmt.Errorf("invalid tile address %q", name)
	}
	return col, row, format, nil
}
