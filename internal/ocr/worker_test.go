package ocr

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"
)

type fakeOCREngine struct {
	text string
}

func (f fakeOCREngine) Recognize(ctx context.Context, img image.Image) (string, string, float64, error) {
	return f.text, "", 0.9, nil
}

type fakeSink struct {
	mu      sync.Mutex
	results []string
}

func (s *fakeSink) WriteOCRResult(t Task, text, textJSON string, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, text)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func tinyImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	return img
}

func TestWorker_ProcessesEnqueuedTasks(t *testing.T) {
	sink := &fakeSink{}
	w := NewWorker(fakeOCREngine{text: "hello world"}, sink, 10, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.Enqueue(Task{FrameID: "f1", Image: tinyImage()})

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("expected 1 processed result, got %d", sink.count())
	}
	w.Stop()
}

func TestWorker_NilEngineDropsSilently(t *testing.T) {
	sink := &fakeSink{}
	w := NewWorker(nil, sink, 10, time.Second)
	w.Start(context.Background())
	w.Enqueue(Task{FrameID: "f1", Image: tinyImage()})
	time.Sleep(20 * time.Millisecond)
	if sink.count() != 0 {
		t.Fatalf("expected no processing with a nil engine, got %d", sink.count())
	}
	w.Stop()
}

func TestWorker_OverflowDropsOldest(t *testing.T) {
	// A capacity-1 queue with a blocked consumer: the first enqueue fills
	// the queue and is picked up immediately by the worker's select loop,
	// so to force an overflow we fill faster than it can drain by holding
	// the engine's Recognize call. This uses a slow fake engine instead.
	slow := slowEngine{delay: 200 * time.Millisecond, text: "x"}
	sink := &fakeSink{}
	w := NewWorker(slow, sink, 1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.Enqueue(Task{FrameID: "a", Image: tinyImage()}) // picked up by worker immediately
	time.Sleep(10 * time.Millisecond)                 // let worker start processing "a"
	w.Enqueue(Task{FrameID: "b", Image: tinyImage()}) // fills the queue
	w.Enqueue(Task{FrameID: "c", Image: tinyImage()}) // overflow: drops "b"

	time.Sleep(500 * time.Millisecond)
	w.Stop()

	stats := w.Stats()
	if stats.Dropped == 0 {
		t.Fatalf("expected at least one dropped task, got stats %+v", stats)
	}
}

type slowEngine struct {
	delay time.Duration
	text  string
}

func (s slowEngine) Recognize(ctx context.Context, img image.Image) (string, string, float64, error) {
	time.Sleep(s.delay)
	return s.text, "", 0.9, nil
}
