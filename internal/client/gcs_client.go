package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/wsiviewer/api/internal/config"
	"github.com/wsiviewer/api/internal/model"
	"github.com/wsiviewer/api/internal/slide"
	"github.com/wsiviewer/api/internal/tilecache"
)

// ErrObjectNotFound means the requested object does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// StorageClient defines the staging operations against the remote slide
// bucket. The bucket only stages input files; tiles never leave local disk.
type StorageClient interface {
	List(ctx context.Context, prefix string) ([]model.GCSFile, error)
	Download(ctx context.Context, objectPath, destPath string) (int64, error)
	SignedURL(objectPath string, expiry time.Duration) (string, error)
	NormalizePath(objectPath string) string
	BucketName() string
}

// GCSClient implements StorageClient for Google Cloud Storage.
type GCSClient struct {
	client *storage.Client
	bucket string
}

// NewGCSClient creates a new GCS staging client. A credentials file is
// optional; without one the client falls back to ambient credentials.
func NewGCSClient(ctx context.Context, cfg *config.GCSConfig) (*GCSClient, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("GCS configuration incomplete: bucket name required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("GCS credentials file not found: %w", err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	c, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSClient{client: c, bucket: cfg.Bucket}, nil
}

// NormalizePath accepts a bare object path, a bucket-prefixed path, or a full
// storage.googleapis.com / storage.cloud.google.com URL and reduces it to the
// object path within the bucket.
func (c *GCSClient) NormalizePath(objectPath string) string {
	p := objectPath
	if strings.HasPrefix(p, "http") {
		if strings.Contains(p, "storage.cloud.google.com") || strings.Contains(p, "storage.googleapis.com") {
			if parts := strings.SplitN(p, c.bucket+"/", 2); len(parts) == 2 {
				p = parts[1]
			}
		}
	}
	return strings.TrimPrefix(p, c.bucket+"/")
}

// List returns the WSI objects in the bucket, filtered by the slide
// extension allow-list.
func (c *GCSClient) List(ctx context.Context, prefix string) ([]model.GCSFile, error) {
	it := c.client.Bucket(c.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	files := []model.GCSFile{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list bucket %s: %w", c.bucket, err)
		}
		if !slide.Supported(attrs.Name) {
			continue
		}
		f := model.GCSFile{
			Name: attrs.Name[strings.LastIndex(attrs.Name, "/")+1:],
			Path: attrs.Name,
			Size: attrs.Size,
		}
		if !attrs.Updated.IsZero() {
			updated := attrs.Updated
			f.Updated = &updated
		}
		files = append(files, f)
	}
	return files, nil
}

// Download stages an object into destPath via the cache's atomic-rename
// discipline and returns the byte count.
func (c *GCSClient) Download(ctx context.Context, objectPath, destPath string) (int64, error) {
	obj := c.client.Bucket(c.bucket).Object(c.NormalizePath(objectPath))

	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrObjectNotFound, objectPath)
		}
		return 0, fmt.Errorf("failed to open object %s: %w", objectPath, err)
	}
	defer r.Close()

	if err := tilecache.CopyFrom(destPath, r); err != nil {
		return 0, fmt.Errorf("failed to stage %s: %w", objectPath, err)
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// SignedURL generates a V4 signed URL for direct read access to an object.
func (c *GCSClient) SignedURL(objectPath string, expiry time.Duration) (string, error) {
	url, err := c.client.Bucket(c.bucket).SignedURL(c.NormalizePath(objectPath), &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(expiry),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign URL for %s: %w", objectPath, err)
	}
	return url, nil
}

// BucketName returns the configured bucket.
func (c *GCSClient) BucketName() string {
	return c.bucket
}
