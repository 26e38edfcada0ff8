// Package diff implements C2, the frame-difference engine: per-stream
// accept/reject decisions based on hash short-circuiting, histogram
// distance, and SSIM.
package diff

import (
	"image"

	"github.com/DyingCoderLin/VisualMem/internal/model"
)

// Config tunes the diff engine's thresholds and histogram metric.
// ScreenThreshold and WindowThreshold are independently configurable per
// spec §4.2.
type Config struct {
	ScreenThreshold float64
	WindowThreshold float64
	Metric          HistogramMetric
}

// DefaultConfig returns the spec's default threshold (0.006) for both
// streams, with Hellinger distance.
func DefaultConfig() Config {
	return Config{
		ScreenThreshold: 0.006,
		WindowThreshold: 0.006,
		Metric:          HistogramHellinger,
	}
}

// Decision is the result of comparing a newly captured image against a
// stream's last accepted image.
type Decision struct {
	Accept  bool
	Combined float64
	Reason   string
}

// peakRejected tracks, within the current stable (rejected) run, the
// rejected frame with the highest combined diff score. The original's
// FrameDiffDetector calls this use_max_average; the steady-state pipeline
// never consults it (spec §4.2), but it is a real queryable field, not a
// no-op.
type peakRejected struct {
	have  bool
	image image.Image
	score float64
}

func (p *peakRejected) consider(img image.Image, score float64) {
	if !p.have || score > p.score {
		p.have = true
		p.image = img
		p.score = score
	}
}

func (p *peakRejected) reset() {
	p.have = false
	p.image = nil
	p.score = 0
}

// Get returns the tracked peak-rejected frame for the current stable run,
// if any.
func (p *peakRejected) Get() (image.Image, float64, bool) {
	return p.image, p.score, p.have
}

// ScreenState is the per-monitor diff state.
type ScreenState struct {
	lastImage image.Image
	lastHash  uint64
	count     int
	peak      peakRejected
}

// WindowState is the per-window-stream diff state.
type WindowState struct {
	lastImage image.Image
	lastHash  uint64
	count     int
	peak      peakRejected
}

// PeakRejected exposes the tracked highest-scoring rejected frame since the
// last accept on this stream.
func (s *ScreenState) PeakRejected() (image.Image, float64, bool) { return s.peak.Get() }

// PeakRejected exposes the tracked highest-scoring rejected frame since the
// last accept on this stream.
func (w *WindowState) PeakRejected() (image.Image, float64, bool) { return w.peak.Get() }

// Engine owns the per-stream state maps for C2. It is single-writer: the
// coordinator goroutine is the only caller, per §5's shared-resource
// policy.
type Engine struct {
	cfg     Config
	screens map[int]*ScreenState
	windows map[model.WindowKey]*WindowState
}

// NewEngine constructs an Engine with the given configuration.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg,
		screens: make(map[int]*ScreenState),
		windows: make(map[model.WindowKey]*WindowState),
	}
}

// CheckScreen decides whether obj's full-screen image should be stored,
// comparing against the last accepted image for obj.MonitorID.
func (e *Engine) CheckScreen(obj *model.ScreenObject) Decision {
	st, ok := e.screens[obj.MonitorID]
	if !ok {
		st = &ScreenState{}
		e.screens[obj.MonitorID] = st
	}
	st.count++

	if st.lastImage == nil {
		st.lastImage = obj.FullScreenImage
		st.lastHash = obj.FullScreenHash
		return Decision{Accept: true, Combined: 1.0, Reason: "first frame"}
	}

	d := e.compare(st.lastImage, st.lastHash, obj.FullScreenImage, obj.FullScreenHash, e.cfg.ScreenThreshold)
	if d.Accept {
		st.lastImage = obj.FullScreenImage
		st.lastHash = obj.FullScreenHash
		st.peak.reset()
	} else {
		st.peak.consider(obj.FullScreenImage, d.Combined)
	}
	return d
}

// CheckWindow decides whether w should be stored, comparing against the
// last accepted image for w.Key().
func (e *Engine) CheckWindow(w *model.WindowFrame) Decision {
	key := w.Key()
	st, ok := e.windows[key]
	if !ok {
		st = &WindowState{}
		e.windows[key] = st
	}
	st.count++

	if st.lastImage == nil {
		st.lastImage = w.Image
		st.lastHash = w.ImageHash
		return Decision{Accept: true, Combined: 1.0, Reason: "first frame"}
	}

	d := e.compare(st.lastImage, st.lastHash, w.Image, w.ImageHash, e.cfg.WindowThreshold)
	if d.Accept {
		st.lastImage = w.Image
		st.lastHash = w.ImageHash
		st.peak.reset()
	} else {
		st.peak.consider(w.Image, d.Combined)
	}
	return d
}

// compare implements the five-step algorithm from spec §4.2.
func (e *Engine) compare(prevImg image.Image, prevHash uint64, curImg image.Image, curHash uint64, threshold float64) Decision {
	if curHash == prevHash {
		return Decision{Accept: false, Combined: 0, Reason: "hash equal"}
	}

	histDist := HistogramDistance(prevImg, curImg, e.cfg.Metric)
	ssimDiff := DiffSSIM(prevImg, curImg)
	combined := (histDist + ssimDiff) / 2

	accept := combined >= threshold
	reason := "below threshold"
	if accept {
		reason = "above threshold"
	}
	return Decision{Accept: accept, Combined: combined, Reason: reason}
}

// PruneWindows removes window diff state for streams whose key is not in
// the current tick's visible-window set. The purge key is the
// (app_name, window_title, process_id) triple, unified with C3's
// stream-identity key per SPEC_FULL.md's resolution of the original's
// inconsistent identity functions.
func (e *Engine) PruneWindows(current map[model.WindowKey]struct{}) {
	for key := range e.windows {
		if _, ok := current[key]; !ok {
			delete(e.windows, key)
		}
	}
}

// ScreenPeak returns the peak-rejected tracker for a monitor, if the
// monitor has been seen.
func (e *Engine) ScreenPeak(monitorID int) (*ScreenState, bool) {
	st, ok := e.screens[monitorID]
	return st, ok
}

// WindowPeak returns the peak-rejected tracker for a window stream, if the
// stream has been seen.
func (e *Engine) WindowPeak(key model.WindowKey) (*WindowState, bool) {
	st, ok := e.windows[key]
	return st, ok
}
