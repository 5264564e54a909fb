package handler

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/wsiviewer/api/internal/client"
	"github.com/wsiviewer/api/internal/model"
	"github.com/wsiviewer/api/internal/service"
	"github.com/wsiviewer/api/pkg/response"
)

// GCSHandler exposes the staging bucket. The client may be nil when GCS is
// not configured; every endpoint then answers 503 except Status, which
// reports the degraded state with 200.
type GCSHandler struct {
	client     client.StorageClient
	slides     *service.SlideService
	convert    *service.ConvertService
	credsFound bool
	initErr    string
}

func NewGCSHandler(c client.StorageClient, slides *service.SlideService, convert *service.ConvertService, credsFound bool, initErr string) *GCSHandler {
	return &GCSHandler{
		client:     c,
		slides:     slides,
		convert:    convert,
		credsFound: credsFound,
		initErr:    initErr,
	}
}

// Files handles GET /api/gcs/files
// @Summary      List bucket slides
// @Description  Slide objects in the staging bucket, filtered by the extension allow-list
// @Tags         GCS
// @Produce      json
// @Param        prefix query string false "Object name prefix"
// @Success      200 {object} model.GCSListResponse
// @Failure      500 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Router       /api/gcs/files [get]
func (h *GCSHandler) Files(c *fiber.Ctx) error {
	if h.client == nil {
		return response.Unavailable(c, "GCS is not configured")
	}

	files, err := h.client.List(c.Context(), c.Query("prefix"))
	if err != nil {
		return response.StorageError(c, err.Error())
	}
	return response.OK(c, model.GCSListResponse{Files: files})
}

// Status handles GET /api/gcs/status
// @Summary      GCS availability
// @Tags         GCS
// @Produce      json
// @Success      200 {object} model.GCSStatusResponse
// @Router       /api/gcs/status [get]
func (h *GCSHandler) Status(c *fiber.Ctx) error {
	status := model.GCSStatusResponse{
		Available:         h.client != nil,
		CredentialsFound:  h.credsFound,
		ClientInitialized: h.client != nil,
	}
	if h.client != nil {
		status.BucketName = h.client.BucketName()
	}
	if h.initErr != "" {
		status.Error = &h.initErr
	}
	return response.OK(c, status)
}

// Download handles POST /api/gcs/download
// @Summary      Stage a bucket slide locally
// @Description  Download one object into the upload directory; a no-op when the file is already staged
// @Tags         GCS
// @Produce      json
// @Param        blob_path query string true "Object path, bucket-prefixed path, or storage URL"
// @Success      200 {object} model.GCSDownloadResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Router       /api/gcs/download [post]
func (h *GCSHandler) Download(c *fiber.Ctx) error {
	if h.client == nil {
		return response.Unavailable(c, "GCS is not configured")
	}

	blobPath := c.Query("blob_path")
	if blobPath == "" {
		return response.ValidationError(c, "blob_path is required", nil)
	}

	objectPath := h.client.NormalizePath(blobPath)
	filename := filepath.Base(objectPath)
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	destPath := h.slides.StagedPath(filename)

	if info, err := os.Stat(destPath); err == nil {
		return response.OK(c, model.GCSDownloadResponse{
			Success:    true,
			Filename:   filename,
			Name:       name,
			Size:       info.Size(),
			LocalPath:  destPath,
			Downloaded: false,
			Converted:  h.convert.IsConverted(name),
			Viewable:   h.convert.IsViewable(name),
			Message:    "File already exists locally",
		})
	}

	size, err := h.client.Download(c.Context(), objectPath, destPath)
	if err != nil {
		if errors.Is(err, client.ErrObjectNotFound) {
			return response.NotFound(c, "Object not found in bucket")
		}
		return response.StorageError(c, err.Error())
	}

	return response.OK(c, model.GCSDownloadResponse{
		Success:    true,
		Filename:   filename,
		Name:       name,
		Size:       size,
		LocalPath:  destPath,
		Downloaded: true,
		Converted:  h.convert.IsConverted(name),
		Viewable:   h.convert.IsViewable(name),
	})
}

// SignedURL handles GET /api/gcs/signed-url
// @Summary      Signed read URL for a bucket slide
// @Tags         GCS
// @Produce      json
// @Param        blob_path        query string true  "Object path, bucket-prefixed path, or storage URL"
// @Param        expiration_hours query int    false "Validity in hours (default 24)"
// @Success      200 {object} model.GCSSignedURLResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Router       /api/gcs/signed-url [get]
func (h *GCSHandler) SignedURL(c *fiber.Ctx) error {
	if h.client == nil {
		return response.Unavailable(c, "GCS is not configured")
	}

	blobPath := c.Query("blob_path")
	if blobPath == "" {
		return response.ValidationError(c, "blob_path is required", nil)
	}

	hours := 24
	if v := c.Query("expiration_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return response.ValidationError(c, "expiration_hours must be a positive integer", nil)
		}
		hours = n
	}
	expiry := time.Duration(hours) * time.Hour

	url, err := h.client.SignedURL(blobPath, expiry)
	if err != nil {
		return response.StorageError(c, err.Error())
	}

	objectPath := h.client.NormalizePath(blobPath)
	filename := filepath.Base(objectPath)
	return response.OK(c, model.GCSSignedURLResponse{
		Success:   true,
		SignedURL: url,
		Filename:  filename,
		Name:      strings.TrimSuffix(filename, filepath.Ext(filename)),
		ExpiresAt: time.Now().Add(expiry),
	})
}
