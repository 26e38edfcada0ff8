// Package cache implements C9: the lightweight-mode frame cache that lets
// the rest of the system behave uniformly whether a vector store is
// configured or not. It holds an MRU list of accepted frames, filtering
// candidates with the same diff engine C2 uses rather than a separate
// threshold, so lightweight mode sees the same accept/reject behavior as
// chunked mode.
package cache

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/DyingCoderLin/VisualMem/internal/diff"
	"github.com/DyingCoderLin/VisualMem/internal/model"
)

// singleCacheStream is the fixed monitor id the internal diff.Engine uses
// to track this cache's own tail image; the cache has exactly one logical
// stream regardless of how many monitors produced the underlying frames.
const singleCacheStream = 0

// Item is one cached frame: enough to answer a query without a second
// round trip to storage.
type Item struct {
	FrameID   string
	Timestamp time.Time
	Image     image.Image
}

// Storage is the narrow slice of C4 the cache needs: list frame metadata
// created since a point in time, and load one frame's image bytes on
// demand. Implemented by internal/db in production.
type Storage interface {
	FramesSince(ctx context.Context, since time.Time) ([]model.Frame, error)
	LoadImage(ctx context.Context, f model.Frame) (image.Image, error)
}

// Cache holds at most MaxSize accepted frames, newest last internally.
type Cache struct {
	maxSize int
	engine  *diff.Engine

	mu            sync.Mutex
	items         []Item
	lastCheckTime time.Time
}

// New constructs a Cache that evicts beyond maxSize and applies threshold
// as both the screen and window diff threshold (the cache only ever
// compares full frames, so the window threshold is unused but the engine
// requires both).
func New(maxSize int, threshold float64) *Cache {
	return &Cache{
		maxSize: maxSize,
		engine:  diff.NewEngine(diff.Config{ScreenThreshold: threshold, WindowThreshold: threshold, Metric: diff.HistogramHellinger}),
	}
}

// Update reloads storage's frame index, applies the diff filter to every
// frame newer than the last check, and updates the cache in place, per
// spec §4.9.
func (c *Cache) Update(ctx context.Context, storage Storage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	frames, err := storage.FramesSince(ctx, c.lastCheckTime)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if f.Timestamp.After(c.lastCheckTime) {
			c.lastCheckTime = f.Timestamp
		}
		img, err := storage.LoadImage(ctx, f)
		if err != nil {
			continue // an unreadable frame is skipped, not fatal to the cache refresh
		}
		obj := &model.ScreenObject{MonitorID: singleCacheStream, Timestamp: f.Timestamp, FullScreenImage: img, FullScreenHash: f.ImageHash}
		decision := c.engine.CheckScreen(obj)
		if !decision.Accept {
			continue
		}
		c.items = append(c.items, Item{FrameID: f.FrameID, Timestamp: f.Timestamp, Image: img})
		if len(c.items) > c.maxSize {
			c.items = c.items[len(c.items)-c.maxSize:]
		}
	}
	return nil
}

// Query returns the cached items, newest first.
func (c *Cache) Query() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, len(c.items))
	for i, item := range c.items {
		out[len(c.items)-1-i] = item
	}
	return out
}

// Len reports the current cache size.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
