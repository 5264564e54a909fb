package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/wsiviewer/api/internal/model"
	"github.com/wsiviewer/api/internal/service"
	"github.com/wsiviewer/api/internal/slide"
	"github.com/wsiviewer/api/pkg/response"
)

type SlideHandler struct {
	slides  *service.SlideService
	convert *service.ConvertService
}

func NewSlideHandler(slides *service.SlideService, convert *service.ConvertService) *SlideHandler {
	return &SlideHandler{
		slides:  slides,
		convert: convert,
	}
}

// List handles GET /api/slides
// @Summary      List staged slides
// @Tags         Slides
// @Produce      json
// @Success      200 {object} model.SlideListResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/slides [get]
func (h *SlideHandler) List(c *fiber.Ctx) error {
	slides, err := h.slides.List()
	if err != nil {
		return response.StorageError(c, err.Error())
	}
	return response.OK(c, model.SlideListResponse{Slides: slides})
}

// Upload handles POST /api/upload
// @Summary      Upload a slide
// @Description  Stage a whole-slide image file (extension allow-list applies)
// @Tags         Slides
// @Accept       multipart/form-data
// @Produce      json
// @Param        file formData file true "Slide file"
// @Success      201 {object} model.UploadResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/upload [post]
func (h *SlideHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}
	if file.Filename == "" {
		return response.ValidationError(c, "No file selected", nil)
	}
	if !slide.Supported(file.Filename) {
		return response.ValidationError(c, "File type not supported", map[string]interface{}{
			"supported": slide.Extensions(),
		})
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open uploaded file")
	}
	defer f.Close()

	result, err := h.slides.Save(file.Filename, f)
	if err != nil {
		return response.StorageError(c, err.Error())
	}

	return response.Created(c, result)
}

// Info handles GET /api/info/:slide
// @Summary      Get slide metadata
// @Description  Dimensions, level count and resolution metadata read through a short-lived decoder handle
// @Tags         Slides
// @Produce      json
// @Param        slide path string true "Slide name"
// @Success      200 {object} model.SlideInfo
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/info/{slide} [get]
func (h *SlideHandler) Info(c *fiber.Ctx) error {
	name := c.Params("slide")
	if name == "" {
		return response.ValidationError(c, "Slide name is required", nil)
	}

	info, err := h.slides.Info(name)
	if err != nil {
		if errors.Is(err, service.ErrSlideNotFound) {
			return response.NotFound(c, "Slide not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, info)
}

// Delete handles DELETE /api/delete/:slide
// @Summary      Delete a slide
// @Description  Remove the staged file, every cached tile, and the descriptor; cancels an in-flight conversion first
// @Tags         Slides
// @Produce      json
// @Param        slide path string true "Slide name"
// @Success      200 {object} model.DeleteResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/delete/{slide} [delete]
func (h *SlideHandler) Delete(c *fiber.Ctx) error {
	name := c.Params("slide")
	if name == "" {
		return response.ValidationError(c, "Slide name is required", nil)
	}

	if _, err := h.slides.Find(name); err != nil {
		if errors.Is(err, service.ErrSlideNotFound) {
			return response.NotFound(c, "Slide not found")
		}
		return response.ServiceError(c, err.Error())
	}

	// Cancel any in-flight conversion and drop the cache before touching
	// the staged file, so a racing worker cannot repopulate tiles.
	if err := h.convert.Delete(name); err != nil {
		return response.StorageError(c, err.Error())
	}
	if err := h.slides.RemoveStaged(name); err != nil && !errors.Is(err, service.ErrSlideNotFound) {
		return response.StorageError(c, err.Error())
	}

	return response.OK(c, model.DeleteResponse{Success: true, Message: "Slide deleted"})
}
