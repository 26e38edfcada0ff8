// Package capture implements C1, the frame source: the boundary between
// this engine and the opaque OS-level screen/window grabber (an external
// collaborator per spec §1). It defines the Source contract plus a
// denylist-filtering, hashing, resizing pipeline any concrete grabber is
// wrapped in, and two test doubles.
package capture

import (
	"image"
	"strings"
	"time"

	ximage "golang.org/x/image/draw"

	"github.com/DyingCoderLin/VisualMem/internal/diff"
	"github.com/DyingCoderLin/VisualMem/internal/model"
)

// RawWindow is what a concrete OS grabber reports for one window, before
// denylist filtering, hashing, or resizing.
type RawWindow struct {
	AppName     string
	WindowTitle string
	ProcessID   int
	IsFocused   bool
	Image       image.Image
}

// RawCapture is what a concrete OS grabber reports for one tick, before any
// pipeline processing.
type RawCapture struct {
	MonitorID  int
	DeviceName string
	Timestamp  time.Time
	FullScreen image.Image
	Windows    []RawWindow
}

// Grabber is the narrow interface a concrete OS-level capture backend must
// implement. Its internals are explicitly out of scope (spec §1); this
// engine only depends on this contract.
type Grabber interface {
	// Grab returns one tick's raw capture, or ok=false on failure.
	Grab(monitorID int) (RawCapture, bool)
	// Monitors lists the available monitor ids.
	Monitors() []int
}

// Source is C1's public contract: a single operation that returns either a
// full capture or a failure signal.
type Source interface {
	Capture() (*model.ScreenObject, bool)
}

// DefaultDenylist holds app-name/title substrings that mark a window as system
// chrome (desktop shells, docks, status bars, IME helpers, window servers)
// to be excluded from capture.
var DefaultDenylist = []string{
	"dock", "taskbar", "shell", "statusbar", "ime", "input method",
	"window server", "desktop", "notification center", "spotlight",
}

// Config controls the Pipeline wrapper's behavior.
type Config struct {
	Denylist                []string
	IncludeUnfocusedWindows bool
	MaxImageWidth           int // 0 = no downscale
}

// DefaultConfig returns the spec defaults: unfocused windows included, no
// downscaling, and the built-in system-chrome denylist.
func DefaultConfig() Config {
	return Config{
		Denylist:                DefaultDenylist,
		IncludeUnfocusedWindows: true,
		MaxImageWidth:           0,
	}
}

// Pipeline wraps a Grabber with denylist filtering, optional downscaling,
// and hash computation, producing C1's ScreenObject contract.
type Pipeline struct {
	grabber   Grabber
	monitorID int
	cfg       Config
}

// NewPipeline builds a Pipeline for the given monitor, bound to grabber.
func NewPipeline(grabber Grabber, monitorID int, cfg Config) *Pipeline {
	return &Pipeline{grabber: grabber, monitorID: monitorID, cfg: cfg}
}

// Capture implements Source.
func (p *Pipeline) Capture() (*model.ScreenObject, bool) {
	raw, ok := p.grabber.Grab(p.monitorID)
	if !ok {
		return nil, false
	}

	full := p.resize(raw.FullScreen)
	obj := &model.ScreenObject{
		MonitorID:       raw.MonitorID,
		DeviceName:      raw.DeviceName,
		Timestamp:       raw.Timestamp.UTC(),
		FullScreenImage: full,
		FullScreenHash:  diff.ComputeHash(full),
	}

	for _, w := range raw.Windows {
		if p.isSystemChrome(w) {
			continue
		}
		if !w.IsFocused && !p.cfg.IncludeUnfocusedWindows {
			continue
		}
		img := p.resize(w.Image)
		obj.Windows = append(obj.Windows, model.WindowFrame{
			AppName:     w.AppName,
			WindowTitle: w.WindowTitle,
			ProcessID:   w.ProcessID,
			IsFocused:   w.IsFocused,
			Image:       img,
			ImageHash:   diff.ComputeHash(img),
			Timestamp:   obj.Timestamp,
		})
	}

	return obj, true
}

func (p *Pipeline) isSystemChrome(w RawWindow) bool {
	app := strings.ToLower(w.AppName)
	title := strings.ToLower(w.WindowTitle)
	for _, d := range p.cfg.Denylist {
		d = strings.ToLower(d)
		if strings.Contains(app, d) || strings.Contains(title, d) {
			return true
		}
	}
	return false
}

// resize downscales img to at most cfg.MaxImageWidth using a high-quality
// resampling filter, preserving aspect ratio. A MaxImageWidth of 0 (or an
// image already narrower) leaves img untouched.
func (p *Pipeline) resize(img image.Image) image.Image {
	if p.cfg.MaxImageWidth <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= p.cfg.MaxImageWidth {
		return img
	}
	newW := p.cfg.MaxImageWidth
	newH := int(float64(h) * float64(newW) / float64(w))
	if newH < 1 {
		newH = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	ximage.CatmullRom.Scale(dst, dst.Bounds(), img, b, ximage.Over, nil)
	return dst
}

// StaticSource is a test double that replays a fixed sequence of
// ScreenObjects, one per Capture call, then repeats the last one forever.
type StaticSource struct {
	Objects []*model.ScreenObject
	idx     int
}

// Capture implements Source.
func (s *StaticSource) Capture() (*model.ScreenObject, bool) {
	if len(s.Objects) == 0 {
		return nil, false
	}
	i := s.idx
	if i >= len(s.Objects) {
		i = len(s.Objects) - 1
	} else {
		s.idx++
	}
	return s.Objects[i], true
}

// NullSource always fails. It exists to exercise the coordinator's
// capture-failure error path (error kind 1 in spec §7).
type NullSource struct{}

// Capture implements Source.
func (NullSource) Capture() (*model.ScreenObject, bool) { return nil, false }
