package diff

import (
	"image"
	"image/color"
	"testing"

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

func withSquare(base *image.RGBA, x0, y0, size int, c color.Color) *image.RGBA {
	img := image.NewRGBA(base.Bounds())
	draw := img.Pix
	copy(draw, base.Pix)
	for y := y0; y < y0+size; y++ {
		for x := x0; x < x0+size; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestEngine_FirstFrameAlwaysAccepted(t *testing.T) {
	e := NewEngine(DefaultConfig())
	img := solidImage(64, 64, color.White)
	obj := &model.ScreenObject{MonitorID: 1, FullScreenImage: img, FullScreenHash: ComputeHash(img)}

	d := e.CheckScreen(obj)
	if !d.Accept || d.Combined != 1.0 || d.Reason != "first frame" {
		t.Fatalf("first frame: got %+v", d)
	}
}

func TestEngine_HashEqualityRejects(t *testing.T) {
	e := NewEngine(DefaultConfig())
	img := withSquare(solidImage(64, 64, color.White), 0, 0, 10, color.RGBA{255, 0, 0, 255})
	hash := ComputeHash(img)
	obj := &model.ScreenObject{MonitorID: 1, FullScreenImage: img, FullScreenHash: hash}

	// First frame: always accepted.
	if d := e.CheckScreen(obj); !d.Accept {
		t.Fatalf("first frame rejected: %+v", d)
	}

	// Same image again -> identical hash -> combined = 0, reject (S1).
	obj2 := &model.ScreenObject{MonitorID: 1, FullScreenImage: img, FullScreenHash: hash}
	d := e.CheckScreen(obj2)
	if d.Accept || d.Combined != 0 {
		t.Fatalf("identical frame not rejected with combined=0: %+v", d)
	}
}

func TestEngine_SilentDesktopScenario(t *testing.T) {
	// S1: same 1920x1080-ish image (scaled down for test speed) with a
	// top-left red square, fed three times. Only the first is accepted.
	e := NewEngine(DefaultConfig())
	base := withSquare(solidImage(128, 128, color.White), 0, 0, 50, color.RGBA{255, 0, 0, 255})
	hash := ComputeHash(base)

	accepted := 0
	for i := 0; i < 3; i++ {
		obj := &model.ScreenObject{MonitorID: 1, FullScreenImage: base, FullScreenHash: hash}
		if e.CheckScreen(obj).Accept {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("accepted = %d, want 1 (first-frame rule only)", accepted)
	}
}

func TestEngine_TabSwitchScenario(t *testing.T) {
	// S2: white then black, both accepted (combined >> threshold).
	e := NewEngine(DefaultConfig())
	white := solidImage(64, 64, color.White)
	black := solidImage(64, 64, color.Black)

	d1 := e.CheckScreen(&model.ScreenObject{MonitorID: 1, FullScreenImage: white, FullScreenHash: ComputeHash(white)})
	if !d1.Accept {
		t.Fatalf("first frame should accept: %+v", d1)
	}
	d2 := e.CheckScreen(&model.ScreenObject{MonitorID: 1, FullScreenImage: black, FullScreenHash: ComputeHash(black)})
	if !d2.Accept || d2.Combined <= 0.5 {
		t.Fatalf("white->black should accept with large combined diff: %+v", d2)
	}
}

func TestEngine_ThresholdEdgeAcceptsAtEquality(t *testing.T) {
	// Boundary behavior: combined == threshold accepts (use >=).
	e := NewEngine(Config{ScreenThreshold: 0, WindowThreshold: 0, Metric: HistogramHellinger})
	white := solidImage(32, 32, color.White)
	grayish := withSquare(solidImage(32, 32, color.White), 0, 0, 1, color.RGBA{254, 254, 254, 255})

	e.CheckScreen(&model.ScreenObject{MonitorID: 1, FullScreenImage: white, FullScreenHash: ComputeHash(white)})
	d := e.CheckScreen(&model.ScreenObject{MonitorID: 1, FullScreenImage: grayish, FullScreenHash: ComputeHash(grayish)})
	// With threshold 0, any nonzero-hash-different frame must accept.
	if !d.Accept {
		t.Fatalf("threshold=0 must accept any hash-different frame: %+v", d)
	}
}

func TestEngine_SameImageZeroDiff(t *testing.T) {
	img := solidImage(32, 32, color.White)
	if got := HistogramDistance(img, img, HistogramHellinger); got != 0 {
		t.Fatalf("HistogramDistance(I,I) = %v, want 0", got)
	}
	if got := DiffSSIM(img, img); got > 1e-9 {
		t.Fatalf("DiffSSIM(I,I) = %v, want ~0", got)
	}
}

func TestEngine_PruneWindows(t *testing.T) {
	e := NewEngine(DefaultConfig())
	w1 := model.WindowKey{AppName: "a", WindowTitle: "t", ProcessID: 1}
	w2 := model.WindowKey{AppName: "b", WindowTitle: "t", ProcessID: 2}
	e.windows[w1] = &WindowState{}
	e.windows[w2] = &WindowState{}

	e.PruneWindows(map[model.WindowKey]struct{}{w1: {}})

	if _, ok := e.windows[w1]; !ok {
		t.Fatal("w1 should survive prune")
	}
	if _, ok := e.windows[w2]; ok {
		t.Fatal("w2 should be pruned")
	}
}

func TestEngine_PeakRejectedTracksHighestCombined(t *testing.T) {
	e := NewEngine(Config{ScreenThreshold: 1.1, WindowThreshold: 1.1, Metric: HistogramHellinger}) // impossible threshold, always reject
	white := solidImage(32, 32, color.White)
	gray := withSquare(solidImage(32, 32, color.White), 0, 0, 16, color.RGBA{128, 128, 128, 255})
	black := solidImage(32, 32, color.Black)

	e.CheckScreen(&model.ScreenObject{MonitorID: 1, FullScreenImage: white, FullScreenHash: ComputeHash(white)})
	e.CheckScreen(&model.ScreenObject{MonitorID: 1, FullScreenImage: gray, FullScreenHash: ComputeHash(gray)})
	e.CheckScreen(&model.ScreenObject{MonitorID: 1, FullScreenImage: black, FullScreenHash: ComputeHash(black)})

	st, ok := e.ScreenPeak(1)
	if !ok {
		t.Fatal("expected screen state to exist")
	}
	_, score, have := st.PeakRejected()
	if !have {
		t.Fatal("expected a tracked peak-rejected frame")
	}
	if score <= 0 {
		t.Fatalf("peak score = %v, want > 0", score)
	}
}
