// Package tilecache is the disk-backed tile store. Layout per slide:
//
//	{root}/{slide}.dzi                          descriptor (completion marker)
//	{root}/{slide}_files/{level}/{col}_{row}.{format}
//
// All writes go through a temp-file-then-rename sequence so readers never
// observe a truncated tile or descriptor.
package tilecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is the negative lookup result for tiles and descriptors. It is
// not a fault: serving paths surface it as an ordinary 404.
var ErrNotFound = errors.New("not found in tile cache")

// TileKey addresses one cached tile file.
type TileKey struct {
	Slide  string
	Level  int
	Col    int
	Row    int
	Format string
}

func (k TileKey) String() string {
	return fmt.Sprintf("%s/%d/%d_%d.%s", k.Slide, k.Level, k.Col, k.Row, k.Format)
}

// Cache is the on-disk tile store rooted at one directory. The conversion
// worker is the only writer during a run; serving reads interact with it only
// through atomic file presence. Writes and Invalidate additionally serialize
// on a per-slide lock so a cancelled conversion cannot write behind a purge.
type Cache struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(root string) *Cache {
	return &Cache{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}
}

// slideLock returns the mutex ordering one slide's writes against Invalidate.
func (c *Cache) slideLock(slide string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[slide]
	if !ok {
		l = &sync.Mutex{}
		c.locks[slide] = l
	}
	return l
}

func (c *Cache) Root() string {
	return c.root
}

func (c *Cache) descriptorPath(slide string) string {
	return filepath.Join(c.root, slide+".dzi")
}

func (c *Cache) tilesDir(slide string) string {
	return filepath.Join(c.root, slide+"_files")
}

func (c *Cache) tilePath(k TileKey) string {
	return filepath.Join(c.tilesDir(k.Slide), fmt.Sprintf("%d", k.Level), fmt.Sprintf("%d_%d.%s", k.Col, k.Row, k.Format))
}

// WriteTile stores one encoded tile atomically. The write is refused once ctx
// is cancelled; the check runs under the slide lock Invalidate takes, so a
// write that lost the race against a deletion can never land after the purge.
func (c *Cache) WriteTile(ctx context.Context, k TileKey, data []byte) error {
	l := c.slideLock(k.Slide)
	l.Lock()
	defer l.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeAtomic(c.tilePath(k), data)
}

// ReadTile returns the encoded bytes for a tile, or ErrNotFound.
func (c *Cache) ReadTile(k TileKey) ([]byte, error) {
	data, err := os.ReadFile(c.tilePath(k))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// WriteDescriptor commits the completion marker atomically. It must be the
// last write of a conversion, and like WriteTile it is refused under the
// slide lock once ctx is cancelled.
func (c *Cache) WriteDescriptor(ctx context.Context, slide string, data []byte) error {
	l := c.slideLock(slide)
	l.Lock()
	defer l.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeAtomic(c.descriptorPath(slide), data)
}

// ReadDescriptor returns the descriptor bytes, or ErrNotFound.
func (c *Cache) ReadDescriptor(slide string) ([]byte, error) {
	data, err := os.ReadFile(c.descriptorPath(slide))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// DescriptorExists is the authoritative "is converted" predicate.
func (c *Cache) DescriptorExists(slide string) bool {
	info, err := os.Stat(c.descriptorPath(slide))
	return err == nil && !info.IsDir()
}

// HasAny reports whether at least one tile file exists for the slide. Used as
// the "partially viewable" signal, including for crashed conversions.
func (c *Cache) HasAny(slide string) bool {
	levels, err := os.ReadDir(c.tilesDir(slide))
	if err != nil {
		return false
	}
	for _, lvl := range levels {
		if !lvl.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(c.tilesDir(slide), lvl.Name()))
		if err == nil && len(entries) > 0 {
			return true
		}
	}
	return false
}

// Invalidate removes every tile and the descriptor for a slide. Callers must
// cancel any in-flight conversion for the slide first: a write already past
// its cancellation check finishes before the purge (and is then removed), and
// any write arriving after the purge observes the cancelled context under the
// same lock and is refused.
func (c *Cache) Invalidate(slide string) error {
	l := c.slideLock(slide)
	l.Lock()
	defer l.Unlock()
	if err := os.RemoveAll(c.tilesDir(slide)); err != nil {
		return err
	}
	if err := os.Remove(c.descriptorPath(slide)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// writeAtomic writes to a temp file in the target directory and renames it
// into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// CopyFrom streams a staged source file into place, used by the GCS download
// path. Kept here so the staging path shares the atomic-rename discipline.
func CopyFrom(dst string, src io.Reader) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
