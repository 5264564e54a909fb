package service

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wsiviewer/api/internal/dzi"
	"github.com/wsiviewer/api/internal/model"
	"github.com/wsiviewer/api/internal/slide"
	"github.com/wsiviewer/api/internal/tilecache"
)

// ErrSlideNotFound means no staged file matches the slide name.
var ErrSlideNotFound = errors.New("slide not found")

// SlideService manages the staging directory of uploaded slide files.
type SlideService struct {
	uploadDir string
	cache     *tilecache.Cache
}

func NewSlideService(uploadDir string, cache *tilecache.Cache) *SlideService {
	return &SlideService{
		uploadDir: uploadDir,
		cache:     cache,
	}
}

// UploadDir returns the staging directory path.
func (s *SlideService) UploadDir() string {
	return s.uploadDir
}

// List returns every staged slide with its conversion flags.
func (s *SlideService) List() ([]model.SlideSummary, error) {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.SlideSummary{}, nil
		}
		return nil, err
	}

	slides := make([]model.SlideSummary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !slide.Supported(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		name := stem(e.Name())
		slides = append(slides, model.SlideSummary{
			Name:      name,
			Filename:  e.Name(),
			Size:      info.Size(),
			Converted: s.cache.DescriptorExists(name),
			Viewable:  s.cache.DescriptorExists(name) || s.cache.HasAny(name),
		})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].Name < slides[j].Name })
	return slides, nil
}

// Save stages an uploaded slide file.
func (s *SlideService) Save(filename string, r io.Reader) (*model.UploadResponse, error) {
	if !slide.Supported(filename) {
		return nil, slide.ErrUnsupportedFormat
	}
	dst := filepath.Join(s.uploadDir, filepath.Base(filename))
	if err := tilecache.CopyFrom(dst, r); err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}

	resp := &model.UploadResponse{
		Success:  true,
		Filename: filepath.Base(filename),
		Name:     stem(filename),
	}
	// Metadata is best-effort at upload time; an undecodable file still
	// stages and fails loudly at conversion.
	if info, err := s.Info(resp.Name); err == nil {
		resp.Info = info
	}
	return resp, nil
}

// Find resolves a slide name to its staged file path.
func (s *SlideService) Find(name string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.uploadDir, name+".*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if slide.Supported(m) {
			return m, nil
		}
	}
	return "", ErrSlideNotFound
}

// Info opens a short-lived decoder handle and reads the slide's metadata.
// The handle never outlives this call.
func (s *SlideService) Info(name string) (*model.SlideInfo, error) {
	path, err := s.Find(name)
	if err != nil {
		return nil, err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", slide.ErrSourceUnavailable, err)
	}

	handle, err := slide.Open(path)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	w, h := handle.Dimensions()
	props := handle.Properties()

	levels := 0
	if plan, err := dzi.Plan(w, h, 254, 1); err == nil {
		levels = len(plan.Levels)
	}

	return &model.SlideInfo{
		Name:           name,
		Filename:       filepath.Base(path),
		Width:          w,
		Height:         h,
		Levels:         levels,
		FileSize:       stat.Size(),
		MPP:            props.MPP,
		ObjectivePower: props.ObjectivePower,
		Vendor:         props.Vendor,
	}, nil
}

// RemoveStaged deletes the staged source file(s) for a slide.
func (s *SlideService) RemoveStaged(name string) error {
	path, err := s.Find(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// StagedPath returns where a file with the given name would be staged.
func (s *SlideService) StagedPath(filename string) string {
	return filepath.Join(s.uploadDir, filepath.Base(filename))
}

func stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
