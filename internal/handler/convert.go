package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/wsiviewer/api/internal/model"
	"github.com/wsiviewer/api/internal/service"
	"github.com/wsiviewer/api/pkg/response"
)

type ConvertHandler struct {
	convert   *service.ConvertService
	slides    *service.SlideService
	validator *validator.Validate
}

func NewConvertHandler(convert *service.ConvertService, slides *service.SlideService, v *validator.Validate) *ConvertHandler {
	return &ConvertHandler{
		convert:   convert,
		slides:    slides,
		validator: v,
	}
}

// Start handles POST /api/convert/:slide
// @Summary      Start slide conversion
// @Description  Trigger a background DeepZoom conversion for a staged slide; returns immediately with job state
// @Tags         Convert
// @Accept       json
// @Produce      json
// @Param        slide   path string false "Slide name"
// @Param        request body model.ConvertRequest false "Tiling overrides"
// @Success      202 {object} model.ConvertResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/convert/{slide} [post]
func (h *ConvertHandler) Start(c *fiber.Ctx) error {
	slideID := c.Params("slide")
	if slideID == "" {
		return response.ValidationError(c, "Slide name is required", nil)
	}

	var req model.ConvertRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
		if err := h.validator.Struct(&req); err != nil {
			return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
		}
	}

	path, err := h.slides.Find(slideID)
	if err != nil {
		if errors.Is(err, service.ErrSlideNotFound) {
			return response.NotFound(c, "Slide not found")
		}
		return response.ServiceError(c, err.Error())
	}

	result, err := h.convert.StartConversion(c.Context(), slideID, path, &req)
	if err != nil {
		return response.ConversionError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Progress handles GET /api/progress/:slide
// @Summary      Get conversion progress
// @Description  Current progress percent and status for a slide's conversion
// @Tags         Convert
// @Produce      json
// @Param        slide path string true "Slide name"
// @Success      200 {object} model.ProgressResponse
// @Failure      400 {object} response.ErrorResponse
// @Router       /api/progress/{slide} [get]
func (h *ConvertHandler) Progress(c *fiber.Ctx) error {
	slideID := c.Params("slide")
	if slideID == "" {
		return response.ValidationError(c, "Slide name is required", nil)
	}

	return response.OK(c, h.convert.GetProgress(slideID))
}
