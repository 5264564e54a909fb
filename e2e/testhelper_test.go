package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/wsiviewer/api/internal/config"
	"github.com/wsiviewer/api/internal/handler"
	"github.com/wsiviewer/api/internal/middleware"
	"github.com/wsiviewer/api/internal/progress"
	"github.com/wsiviewer/api/internal/service"
	"github.com/wsiviewer/api/internal/tilecache"
	"github.com/wsiviewer/api/pkg/response"
)

// fakeEnqueuer records enqueued conversion tasks instead of talking to a
// broker, so these tests never dispatch real work.
type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

// testApp holds all components needed for testing
type testApp struct {
	app      *fiber.App
	cache    *tilecache.Cache
	enqueuer *fakeEnqueuer
}

// setupApp creates a Fiber app wired like main.go, but with a fake task queue
// and no GCS client. The rate limiter points at an unreachable Redis and
// fails open.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	cache := tilecache.New(t.TempDir())
	tracker := progress.NewTracker()
	enqueuer := &fakeEnqueuer{}
	validate := validator.New()

	slideService := service.NewSlideService(t.TempDir(), cache)
	convertService := service.NewConvertService(tracker, cache, enqueuer, testTiling())

	slideHandler := handler.NewSlideHandler(slideService, convertService)
	convertHandler := handler.NewConvertHandler(convertService, slideService, validate)
	tileHandler := handler.NewTileHandler(cache)
	gcsHandler := handler.NewGCSHandler(nil, slideService, convertService, false, "")

	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:1", DB: 15})
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		BodyLimit: 64 * 1024 * 1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis": false,
				"gcs":   false,
			},
		})
	})

	api := app.Group("/api")

	api.Get("/slides", slideHandler.List)
	api.Post("/upload", rateLimiter.UploadLimit(10000), slideHandler.Upload)
	api.Get("/info/:slide", slideHandler.Info)
	api.Delete("/delete/:slide", slideHandler.Delete)

	api.Post("/convert/:slide", rateLimiter.ConvertLimit(10000), convertHandler.Start)
	api.Get("/progress/:slide", convertHandler.Progress)

	api.Get("/dzi/:slide", tileHandler.Descriptor)
	api.Get("/tiles/:slide/:level/:tile", tileHandler.Tile)

	gcs := api.Group("/gcs")
	gcs.Get("/files", gcsHandler.Files)
	gcs.Get("/status", gcsHandler.Status)
	gcs.Post("/download", rateLimiter.DownloadLimit(10000), gcsHandler.Download)
	gcs.Get("/signed-url", gcsHandler.SignedURL)

	return &testApp{app: app, cache: cache, enqueuer: enqueuer}
}

func testTiling() config.TilingConfig {
	return config.TilingConfig{TileSize: 254, Overlap: 1, Format: "jpeg", Quality: 75, Workers: 2, Conversions: 1}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doUpload performs a multipart file upload against /api/upload.
func doUpload(t *testing.T, app *fiber.App, filename string, content []byte) (*http.Response, error) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, "/api/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// assertErrorCode checks the error envelope's code field.
func assertErrorCode(t *testing.T, resp *http.Response, code string) {
	t.Helper()
	body := readBody(t, resp)
	var envelope response.ErrorResponse
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		t.Fatalf("failed to parse error envelope: %v\nbody: %s", err, body)
	}
	if envelope.Error.Code != code {
		t.Errorf("error code = %q, want %q", envelope.Error.Code, code)
	}
}
