package cache

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/DyingCoderLin/VisualMem/internal/model"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

type fakeStorage struct {
	frames []model.Frame
	images map[string]image.Image
}

func (s *fakeStorage) FramesSince(ctx context.Context, since time.Time) ([]model.Frame, error) {
	var out []model.Frame
	for _, f := range s.frames {
		if f.Timestamp.After(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeStorage) LoadImage(ctx context.Context, f model.Frame) (image.Image, error) {
	return s.images[f.FrameID], nil
}

func TestCache_Update_AcceptsFirstFrameAndFiltersIdentical(t *testing.T) {
	now := time.Now().UTC()
	white := solidImage(4, 4, color.White)
	storage := &fakeStorage{
		frames: []model.Frame{
			{FrameID: "f1", Timestamp: now, ImageHash: 1},
			{FrameID: "f2", Timestamp: now.Add(time.Second), ImageHash: 1}, // identical hash, should be filtered
		},
		images: map[string]image.Image{"f1": white, "f2": white},
	}

	c := New(10, 0.006)
	if err := c.Update(context.Background(), storage); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected only the first frame accepted, got %d cached", c.Len())
	}
}

func TestCache_Update_AcceptsDistinctFrameAndEvictsOverMaxSize(t *testing.T) {
	now := time.Now().UTC()
	white := solidImage(4, 4, color.White)
	black := solidImage(4, 4, color.Black)
	storage := &fakeStorage{
		frames: []model.Frame{
			{FrameID: "f1", Timestamp: now, ImageHash: 1},
			{FrameID: "f2", Timestamp: now.Add(time.Second), ImageHash: 2},
		},
		images: map[string]image.Image{"f1": white, "f2": black},
	}

	c := New(1, 0.006)
	if err := c.Update(context.Background(), storage); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected eviction down to max_size=1, got %d cached", c.Len())
	}
	items := c.Query()
	if items[0].FrameID != "f2" {
		t.Fatalf("expected the newest accepted frame to survive eviction, got %+v", items)
	}
}

func TestCache_Query_ReturnsNewestFirst(t *testing.T) {
	now := time.Now().UTC()
	storage := &fakeStorage{
		frames: []model.Frame{
			{FrameID: "f1", Timestamp: now, ImageHash: 1},
			{FrameID: "f2", Timestamp: now.Add(time.Second), ImageHash: 2},
		},
		images: map[string]image.Image{"f1": solidImage(4, 4, color.White), "f2": solidImage(4, 4, color.Black)},
	}

	c := New(10, 0.006)
	if err := c.Update(context.Background(), storage); err != nil {
		t.Fatal(err)
	}
	items := c.Query()
	if len(items) != 2 || items[0].FrameID != "f2" || items[1].FrameID != "f1" {
		t.Fatalf("expected newest-first order [f2, f1], got %+v", items)
	}
}
