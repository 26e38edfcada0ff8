package videochunk

import (
	"fmt"
	"image"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/DyingCoderLin/VisualMem/internal/model"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// safeIdentifier sanitizes a stream identity component for use in a file
// path, per spec §6's "<chunk_type>_<safe_identifier>_<timestamp>.mp4"
// naming convention.
func safeIdentifier(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}

// chunkFileName builds the "<chunk_type>_<safe_identifier>_<YYYY-MM-DD_HH-MM-SS>.mp4"
// file name spec §6 requires, keyed by a monotonically increasing sequence
// number so repeated rolls at the same wall-clock second never collide.
func chunkFileName(chunkType, identifier string, now func() time.Time) func(int) string {
	return func(int) string {
		t := now()
		return fmt.Sprintf("%s_%s_%s.mp4", chunkType, safeIdentifier(identifier), t.UTC().Format("2006-01-02_15-04-05"))
	}
}

// Manager owns one Writer per active stream (one screen stream per
// monitor, one window stream per model.WindowKey) and the directory
// layout from spec §6.
type Manager struct {
	mu      sync.Mutex
	root    string
	cfg     Config
	now     func() time.Time
	screens map[int]*Writer
	windows map[model.WindowKey]*Writer

	// OnScreenChunkCreated / OnWindowChunkCreated let the coordinator
	// insert the video_chunks / window_chunks row and learn its id before
	// any frame-level write references it.
	OnScreenChunkCreated func(monitorID int, path string)
	OnWindowChunkCreated func(key model.WindowKey, path string)
}

// NewManager creates a Manager rooted at storageRoot/video_chunks.
func NewManager(storageRoot string, cfg Config) *Manager {
	return &Manager{
		root:    filepath.Join(storageRoot, "video_chunks"),
		cfg:     cfg,
		now:     time.Now,
		screens: make(map[int]*Writer),
		windows: make(map[model.WindowKey]*Writer),
	}
}

// WriteScreenFrame writes img to the screen stream for monitorID, opening
// the writer if needed.
func (m *Manager) WriteScreenFrame(monitorID int, deviceName string, img image.Image) (WriteResult, error) {
	w := m.screenWriter(monitorID, deviceName)
	return w.WriteFrame(img)
}

// WriteWindowFrame writes img to the per-window stream identified by key,
// opening the writer if needed.
func (m *Manager) WriteWindowFrame(key model.WindowKey, img image.Image) (WriteResult, error) {
	w := m.windowWriter(key)
	return w.WriteFrame(img)
}

func (m *Manager) screenWriter(monitorID int, deviceName string) *Writer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.screens[monitorID]; ok {
		return w
	}
	dir := filepath.Join(m.root, "screens", fmt.Sprintf("%d", monitorID))
	identifier := deviceName
	if identifier == "" {
		identifier = fmt.Sprintf("monitor-%d", monitorID)
	}
	onCreated := func(path string) {
		if m.OnScreenChunkCreated != nil {
			m.OnScreenChunkCreated(monitorID, path)
		}
	}
	w := NewWriter(dir, chunkFileName("screen", identifier, m.now), m.cfg, onCreated)
	m.screens[monitorID] = w
	return w
}

func (m *Manager) windowWriter(key model.WindowKey) *Writer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.windows[key]; ok {
		return w
	}
	dir := filepath.Join(m.root, "windows", safeIdentifier(key.String()))
	onCreated := func(path string) {
		if m.OnWindowChunkCreated != nil {
			m.OnWindowChunkCreated(key, path)
		}
	}
	w := NewWriter(dir, chunkFileName("window", key.AppName+"-"+key.WindowTitle, m.now), m.cfg, onCreated)
	m.windows[key] = w
	return w
}

// CloseInactiveWindows closes and removes writers for window streams whose
// key is not in currentKeys — spec §4.7 step 3: "instruct the video
// manager to close writers for keys not in that set." Identity is the same
// (app_name, window_title, process_id) triple used by C2.
func (m *Manager) CloseInactiveWindows(currentKeys map[model.WindowKey]struct{}) {
	m.mu.Lock()
	toClose := make([]*Writer, 0)
	for key, w := range m.windows {
		if _, ok := currentKeys[key]; !ok {
			toClose = append(toClose, w)
			delete(m.windows, key)
		}
	}
	m.mu.Unlock()

	for _, w := range toClose {
		_ = w.Close()
	}
}

// CloseAll closes every open writer, screen and window streams alike. Used
// on coordinator shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	writers := make([]*Writer, 0, len(m.screens)+len(m.windows))
	for _, w := range m.screens {
		writers = append(writers, w)
	}
	for _, w := range m.windows {
		writers = append(writers, w)
	}
	m.screens = make(map[int]*Writer)
	m.windows = make(map[model.WindowKey]*Writer)
	m.mu.Unlock()

	for _, w := range writers {
		_ = w.Close()
	}
}
