package db

import (
	"context"
	"database/sql"
	"fmt"
	"image"
	_ "image/jpeg"
	"os"
	"time"

	"github.com/DyingCoderLin/VisualMem/internal/model"
	"github.com/DyingCoderLin/VisualMem/internal/videochunk"
)

// CacheStorage adapts this package to internal/cache's narrow Storage
// interface, wiring C9's lightweight-mode cache to C4 without C9 needing
// to know about SQL or chunk files directly.
type CacheStorage struct {
	Conn       *sql.DB
	FFmpegPath string
}

// FramesSince lists frames newer than since, ascending by timestamp.
func (s CacheStorage) FramesSince(ctx context.Context, since time.Time) ([]model.Frame, error) {
	return FramesSince(s.Conn, since)
}

func (s CacheStorage) LoadImage(ctx context.Context, f model.Frame) (image.Image, error) {
	if f.ImagePath != "" {
		file, err := os.Open(f.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("db: open cached frame image: %w", err)
		}
		defer file.Close()
		img, _, err := image.Decode(file)
		return img, err
	}
	if f.VideoChunkID == nil || f.OffsetIndex == nil {
		return nil, fmt.Errorf("db: frame %s has no image source", f.FrameID)
	}
	chunk, ok := VideoChunkByID(s.Conn, *f.VideoChunkID)
	if !ok {
		return nil, fmt.Errorf("db: video chunk %d not found", *f.VideoChunkID)
	}
	return videochunk.ExtractFrame(s.FFmpegPath, chunk.FilePath, *f.OffsetIndex, chunk.FPS)
}
