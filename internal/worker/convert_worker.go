package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/wsiviewer/api/internal/dzi"
	"github.com/wsiviewer/api/internal/model"
	"github.com/wsiviewer/api/internal/progress"
	"github.com/wsiviewer/api/internal/slide"
	"github.com/wsiviewer/api/internal/tilecache"
	"github.com/wsiviewer/api/internal/tiler"
	"github.com/wsiviewer/api/internal/websocket"
)

// ConvertWorker processes slide conversion tasks: plan the pyramid, generate
// every tile through the cache, then commit the descriptor. A failed run
// purges its partial tiles so a half-built pyramid is never mistaken for
// complete.
type ConvertWorker struct {
	tracker *progress.Tracker
	cache   *tilecache.Cache
	hub     *websocket.Hub
	workers int

	// open is slide.Open unless a test substitutes a fake decoder.
	open func(path string) (slide.Slide, error)
}

func NewConvertWorker(tracker *progress.Tracker, cache *tilecache.Cache, hub *websocket.Hub, workers int) *ConvertWorker {
	if workers < 1 {
		workers = 1
	}
	return &ConvertWorker{
		tracker: tracker,
		cache:   cache,
		hub:     hub,
		workers: workers,
		open:    slide.Open,
	}
}

// ProcessTask handles one conversion task end to end.
func (w *ConvertWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.ConvertTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal convert payload: %w", err)
	}

	slideID := payload.SlideID
	log.Printf("Starting conversion for slide %s (job %s)", slideID, payload.JobID)

	// Deletion cancels through this context; the generator loop checks it
	// before every tile write.
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.tracker.BindCancel(slideID, cancel)

	src, err := w.open(payload.Path)
	if err != nil {
		// No partial state exists yet; just record the failure.
		return w.fail(slideID, fmt.Sprintf("Slide source unavailable: %v", err), false)
	}
	defer src.Close()

	width, height := src.Dimensions()
	plan, err := dzi.Plan(width, height, payload.TileSize, payload.Overlap)
	if err != nil {
		return w.fail(slideID, fmt.Sprintf("Invalid slide geometry %dx%d: %v", width, height, err), false)
	}

	total := plan.TotalTiles()
	w.tracker.SetConverting(slideID, total)

	gen := tiler.New(slideID, src, plan, payload.Format, payload.Quality)

	var completed int64
	var lastPct int64 = -1

	g, gctx := errgroup.WithContext(jobCtx)
	g.SetLimit(w.workers)

	// Coarsest level first so a viewer gets low-resolution coverage early;
	// correctness does not depend on the order.
	for _, ls := range plan.Levels {
		for row := 0; row < ls.Rows; row++ {
			for col := 0; col < ls.Columns; col++ {
				level, col, row := ls.Level, col, row
				g.Go(func() error {
					if err := gctx.Err(); err != nil {
						return err
					}
					data, err := gen.Tile(gctx, level, col, row)
					if err != nil {
						return err
					}
					key := tilecache.TileKey{
						Slide:  slideID,
						Level:  level,
						Col:    col,
						Row:    row,
						Format: payload.Format,
					}
					// WriteTile re-checks gctx under the cache's slide lock,
					// so a tile whose read was in flight when deletion
					// cancelled this run is dropped, not resurrected.
					if err := w.cache.WriteTile(gctx, key, data); err != nil {
						if errors.Is(err, context.Canceled) {
							return err
						}
						return fmt.Errorf("write tile %s: %w", key, err)
					}

					n := atomic.AddInt64(&completed, 1)
					pct := int64(0)
					if total > 0 {
						pct = 100 * n / int64(total)
					}
					w.tracker.Advance(slideID, int(n))
					if atomic.SwapInt64(&lastPct, pct) != pct {
						w.broadcastProgress(slideID, int(pct))
					}
					return nil
				})
			}
		}
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			// Deletion raced this run; it already removed the registry entry
			// and owns cache cleanup. Writing or purging here could
			// interleave with the delete.
			log.Printf("Conversion for slide %s cancelled", slideID)
			return nil
		}
		return w.fail(slideID, fmt.Sprintf("Conversion failed: %v", err), true)
	}

	desc := dzi.NewDescriptor(plan, payload.Format)
	data, err := desc.Marshal()
	if err != nil {
		return w.fail(slideID, fmt.Sprintf("Failed to encode descriptor: %v", err), true)
	}
	if err := w.cache.WriteDescriptor(jobCtx, slideID, data); err != nil {
		if errors.Is(err, context.Canceled) {
			// Deletion landed between the last tile and the commit; it owns
			// the cleanup, and committing now would resurrect the pyramid.
			log.Printf("Conversion for slide %s cancelled before descriptor commit", slideID)
			return nil
		}
		return w.fail(slideID, fmt.Sprintf("Failed to commit descriptor: %v", err), true)
	}

	w.tracker.Complete(slideID)
	if w.hub != nil {
		w.hub.BroadcastComplete(slideID, fmt.Sprintf("/api/dzi/%s.dzi", slideID))
	}
	log.Printf("Conversion for slide %s completed (%d tiles)", slideID, total)
	return nil
}

// fail records the terminal error and, when partial tiles were written,
// purges them so the slide can never be mistaken for viewable or complete.
func (w *ConvertWorker) fail(slideID, msg string, purge bool) error {
	if purge {
		if err := w.cache.Invalidate(slideID); err != nil {
			log.Printf("Failed to purge partial tiles for %s: %v", slideID, err)
		}
	}
	w.tracker.Fail(slideID, msg)
	if w.hub != nil {
		w.hub.BroadcastError(slideID, "CONVERSION_FAILED", msg)
	}
	log.Printf("Conversion for slide %s failed: %s", slideID, msg)
	return errors.New(msg)
}

func (w *ConvertWorker) broadcastProgress(slideID string, pct int) {
	if w.hub == nil {
		return
	}
	w.hub.BroadcastProgress(slideID, pct, model.JobStatusConverting)
}
