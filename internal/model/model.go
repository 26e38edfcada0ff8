// Package model defines the entities shared across the capture, storage,
// and retrieval layers.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"image"
	"time"
)

// ScreenObject is a single capture tick's worth of raw material: the
// full-screen image plus every window visible at that instant. It is
// transient — created by the frame source, consumed within one tick, and
// never persisted directly.
type ScreenObject struct {
	MonitorID       int
	DeviceName      string
	Timestamp       time.Time
	FullScreenImage image.Image
	FullScreenHash  uint64
	Windows         []WindowFrame
}

// WindowKey identifies a window stream independent of any particular
// capture. Identity is (app_name, window_title, process_id), per the
// unification of C2's and C3's stream-cleanup logic.
type WindowKey struct {
	AppName     string
	WindowTitle string
	ProcessID   int
}

func (k WindowKey) String() string {
	return fmt.Sprintf("%s::%s::%d", k.AppName, k.WindowTitle, k.ProcessID)
}

// WindowFrame is one application window captured during a tick. It is
// transient, like ScreenObject.
type WindowFrame struct {
	AppName     string
	WindowTitle string
	ProcessID   int
	IsFocused   bool
	Image       image.Image
	ImageHash   uint64
	Timestamp   time.Time
}

// Key returns the identity key for the window stream this frame belongs to.
func (w WindowFrame) Key() WindowKey {
	return WindowKey{AppName: w.AppName, WindowTitle: w.WindowTitle, ProcessID: w.ProcessID}
}

// Frame is a persisted, accepted full-screen capture. Exactly one of
// ImagePath (lightweight mode) or (VideoChunkID, OffsetIndex) (chunked
// mode) is populated.
type Frame struct {
	FrameID      string
	Timestamp    time.Time
	ImagePath    string
	DeviceName   string
	MetadataJSON string
	VideoChunkID *int64
	OffsetIndex  *int
	MonitorID    int
	ImageHash    uint64
	CreatedAt    time.Time
}

// SubFrame is a persisted, accepted per-window capture belonging to
// exactly one window stream.
type SubFrame struct {
	SubFrameID    string
	WindowChunkID int64
	OffsetIndex   int
	Timestamp     time.Time
	AppName       string
	WindowName    string
	ProcessID     int
	IsFocused     bool
	ImageHash     uint64
	CreatedAt     time.Time
}

// VideoChunk is one MP4 file holding a contiguous run of accepted
// full-screen frames.
type VideoChunk struct {
	ID         int64
	FilePath   string
	MonitorID  int
	DeviceName string
	FPS        float64
	FrameCount int
	CreatedAt  time.Time
}

// WindowChunk is one MP4 file holding a contiguous run of accepted
// per-window frames for a single window stream.
type WindowChunk struct {
	ID         int64
	FilePath   string
	AppName    string
	WindowName string
	MonitorID  int
	FPS        float64
	FrameCount int
	CreatedAt  time.Time
}

// OCRRow is the recognized text for either a Frame or a SubFrame (never
// both — exactly one of FrameID/SubFrameID is populated).
type OCRRow struct {
	ID          int64
	FrameID     string
	SubFrameID  string
	Text        string
	TextJSON    string
	OCREngine   string
	TextLength  int
	Confidence  float64
	CreatedAt   time.Time
}

// VectorRow is one entry in the dense vector store.
type VectorRow struct {
	FrameID   string
	Timestamp time.Time
	ImagePath string
	Vector    []float32
	OCRText   string
}

// FrameIDLayout is the canonical, lexicographically time-sortable frame
// identifier: YYYYMMDD_HHMMSS_ffffff, exactly 22 characters, underscores
// at positions 8 and 15.
const FrameIDLayout = "20060102_150405.000000"

// NewFrameID derives the canonical frame_id for t (truncated to
// microsecond precision, always UTC).
func NewFrameID(t time.Time) string {
	u := t.UTC()
	// time.Format with ".000000" yields "...150405.123456"; swap the dot
	// for the second underscore the canonical format requires.
	s := u.Format(FrameIDLayout)
	return s[:15] + "_" + s[16:]
}

// NewSubFrameID derives a frame_id-shaped identifier for a sub-frame, with
// an 8 hex character random suffix so that two window streams accepting
// frames in the same microsecond don't collide.
func NewSubFrameID(t time.Time) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("model: generate sub-frame suffix: %w", err)
	}
	return NewFrameID(t) + "_" + hex.EncodeToString(suffix), nil
}

// ParseFrameIDTimestamp parses the canonical 22-character frame_id format
// back into a UTC time.Time. It does not accept the legacy
// millisecond-prefix format; callers that need to accept both should try
// this first and fall back separately.
func ParseFrameIDTimestamp(frameID string) (time.Time, error) {
	if len(frameID) < 22 {
		return time.Time{}, fmt.Errorf("model: frame_id %q shorter than canonical length", frameID)
	}
	core := frameID[:22]
	reconstructed := core[:15] + "." + core[16:]
	t, err := time.Parse(FrameIDLayout, reconstructed)
	if err != nil {
		return time.Time{}, fmt.Errorf("model: parse frame_id %q: %w", frameID, err)
	}
	return t, nil
}
