// Package ocr implements C6: a bounded FIFO queue feeding one background
// worker that calls the external OCR collaborator and writes results into
// C4. Overflow drops the oldest task and logs a warning — OCR loss is
// tolerable, unlike a dropped frame.
package ocr

import (
	"context"
	"image"
	"log"
	"sync"
	"time"

	"github.com/DyingCoderLin/VisualMem/internal/engines"
)

// DefaultCapacity is the queue's bound, per spec §4.6 ("capacity ≈ 100").
const DefaultCapacity = 100

// Task carries everything the worker needs to process one accepted
// capture. Exactly one of FrameID/SubFrameID is set.
type Task struct {
	FrameID    string
	SubFrameID string
	Timestamp  time.Time
	ImagePath  string
	Image      image.Image
}

// Sink persists a completed OCR result; implemented by internal/db in
// production and by a fake in tests.
type Sink interface {
	WriteOCRResult(t Task, text, textJSON string, confidence float64) error
}

// Worker drains a bounded task queue with a single goroutine.
type Worker struct {
	engine engines.OCREngine
	sink   Sink
	queue  chan Task
	drainTimeout time.Duration

	mu       sync.Mutex
	dropped  int
	processed int

	stop chan struct{}
	done chan struct{}
}

// NewWorker creates a Worker with the given queue capacity. engine may be
// nil, in which case Start is a no-op and every Enqueue is silently
// dropped (OCR disabled).
func NewWorker(engine engines.OCREngine, sink Sink, capacity int, drainTimeout time.Duration) *Worker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Worker{
		engine:       engine,
		sink:         sink,
		queue:        make(chan Task, capacity),
		drainTimeout: drainTimeout,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Enqueue adds a task to the queue. If the queue is full, the oldest
// pending task is dropped (not this new one — spec §4.6: "drops the
// oldest") and a warning is logged; this enqueue then proceeds.
func (w *Worker) Enqueue(t Task) {
	if w.engine == nil {
		return
	}
	select {
	case w.queue <- t:
		return
	default:
	}
	// Queue full: drop the oldest, then enqueue the new task.
	select {
	case old := <-w.queue:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		log.Printf("[ocr] queue full, dropping oldest task (frame_id=%s sub_frame_id=%s)", old.FrameID, old.SubFrameID)
	default:
	}
	select {
	case w.queue <- t:
	default:
		// Another producer raced us to the freed slot; drop this one instead.
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		log.Printf("[ocr] queue full after eviction, dropping task (frame_id=%s sub_frame_id=%s)", t.FrameID, t.SubFrameID)
	}
}

// Start launches the worker goroutine. Safe to call once.
func (w *Worker) Start(ctx context.Context) {
	if w.engine == nil {
		close(w.done)
		return
	}
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case task := <-w.queue:
			w.process(ctx, task)
		case <-w.stop:
			w.drain(ctx)
			return
		case <-ctx.Done():
			w.drain(ctx)
			return
		}
	}
}

// drain processes remaining queued tasks up to drainTimeout, then exits so
// shutdown never blocks forever on a slow OCR backend.
func (w *Worker) drain(ctx context.Context) {
	deadline := time.After(w.drainTimeout)
	for {
		select {
		case task := <-w.queue:
			w.process(ctx, task)
		case <-deadline:
			return
		default:
			if len(w.queue) == 0 {
				return
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, task Task) {
	text, textJSON, confidence, err := w.engine.Recognize(ctx, task.Image)
	if err != nil {
		log.Printf("[ocr] recognize failed for frame_id=%s sub_frame_id=%s: %v", task.FrameID, task.SubFrameID, err)
		return
	}
	if err := w.sink.WriteOCRResult(task, text, textJSON, confidence); err != nil {
		log.Printf("[ocr] write result failed for frame_id=%s sub_frame_id=%s: %v", task.FrameID, task.SubFrameID, err)
		return
	}
	w.mu.Lock()
	w.processed++
	w.mu.Unlock()
}

// Stop signals the worker to drain and exit, and blocks until it does.
func (w *Worker) Stop() {
	select {
	case <-w.done:
		return
	default:
	}
	close(w.stop)
	<-w.done
}

// Stats reports cumulative processed/dropped counts.
type Stats struct {
	Processed int
	Dropped   int
}

func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{Processed: w.processed, Dropped: w.dropped}
}
