package viewport

import (
	"math"
	"testing"
)

func near(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func TestFitNeverUpscales(t *testing.T) {
	p := New(Size{100, 50}, Size{800, 600})
	if w, h := p.BufferSize(); w != 100 || h != 50 {
		t.Fatalf("BufferSize = %dx%d, want 100x50", w, h)
	}

	p = New(Size{2000, 1000}, Size{800, 600})
	if w, h := p.BufferSize(); w != 800 || h != 400 {
		t.Fatalf("BufferSize = %dx%d, want 800x400", w, h)
	}
}

func TestViewportToImageCorrectsEveryScale(t *testing.T) {
	// Source 2000x1000 fitted to 200x100, zoom 4 -> buffer 800x400,
	// rendered at half size -> 400x200 on screen.
	p := New(Size{2000, 1000}, Size{200, 100})
	p.ZoomAt(4, Point{})
	p.SetRenderedSize(Size{400, 200})
	p.ScrollTo(Point{100, 50})

	got := p.ViewportToImage(Point{100, 50})
	// Client (100,50) + scroll (100,50) = rendered (200,100) -> buffer (400,200)
	// -> image (1000,500).
	if !near(got.X, 1000, 1e-9) || !near(got.Y, 500, 1e-9) {
		t.Fatalf("ViewportToImage = %+v, want (1000,500)", got)
	}

	back := p.ImageToViewport(got)
	if !near(back.X, 100, 1e-9) || !near(back.Y, 50, 1e-9) {
		t.Fatalf("ImageToViewport = %+v, want (100,50)", back)
	}
}

func TestBufferToImageAtZoomOne(t *testing.T) {
	p := New(Size{100, 100}, Size{0, 0})
	got := p.BufferToImage(Point{25, 75})
	if got != (Point{25, 75}) {
		t.Fatalf("BufferToImage = %+v", got)
	}
}

func TestZoomClamped(t *testing.T) {
	p := New(Size{100, 100}, Size{100, 100})
	p.ZoomAt(50, Point{})
	if p.Zoom() != MaxZoom {
		t.Fatalf("zoom = %v, want %v", p.Zoom(), MaxZoom)
	}
	p.ZoomAt(0.01, Point{})
	if p.Zoom() != MinZoom {
		t.Fatalf("zoom = %v, want %v", p.Zoom(), MinZoom)
	}
	for i := 0; i < 20; i++ {
		p.ZoomIn()
		p.FinishZoom()
	}
	if p.Zoom() != MaxZoom {
		t.Fatalf("stepped zoom = %v, want %v", p.Zoom(), MaxZoom)
	}
	for i := 0; i < 100; i++ {
		p.Wheel(1, Point{10, 10})
		p.FinishZoom()
	}
	if p.Zoom() != MinZoom {
		t.Fatalf("wheel zoom = %v, want %v", p.Zoom(), MinZoom)
	}
}

func TestZoomAnchorKeepsPointUnderPointer(t *testing.T) {
	tests := []struct {
		name   string
		zoom   float64
		target float64
		anchor Point
	}{
		{"center zoom in", 1, 2, Point{300, 200}},
		{"corner zoom in", 1.5, 3.7, Point{550, 10}},
		{"wheel step", 2, 2 * WheelZoomFactor, Point{123.4, 321.9}},
		{"zoom out", 4, 2.5, Point{200, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(Size{1200, 900}, Size{600, 450})
			p.ZoomAt(tt.zoom, Point{})
			p.ScrollTo(Point{200, 150})

			before := p.ViewportToImage(tt.anchor)

			p.BeginZoom(tt.target, tt.anchor)
			if !p.Anchored() {
				t.Fatal("anchor not recorded")
			}
			p.FinishZoom()

			after := p.ImageToViewport(before)
			// Tolerance: one buffer pixel expressed in viewport pixels.
			tol := p.CSSScale()
			if !near(after.X, tt.anchor.X, tol) || !near(after.Y, tt.anchor.Y, tol) {
				t.Fatalf("anchor drifted: %+v -> %+v", tt.anchor, after)
			}
			if p.Anchored() {
				t.Fatal("anchor not cleared after FinishZoom")
			}
		})
	}
}

func TestZoomResetClearsAnchor(t *testing.T) {
	p := New(Size{100, 100}, Size{50, 50})
	p.BeginZoom(3, Point{10, 10})
	p.ZoomReset()
	if p.Zoom() != 1 || p.Anchored() {
		t.Fatalf("zoom=%v anchored=%v", p.Zoom(), p.Anchored())
	}
}

func TestScrollClamped(t *testing.T) {
	p := New(Size{100, 100}, Size{50, 50})
	p.ZoomAt(2, Point{})
	p.ScrollTo(Point{-10, 500})
	if p.Scroll() != (Point{0, 50}) {
		t.Fatalf("scroll = %+v, want (0,50)", p.Scroll())
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	p := New(Size{100, 100}, Size{50, 50})
	p.ZoomAt(3, Point{25, 25})
	p.Reset(Size{40, 40})
	if p.Zoom() != 1 || p.Scroll() != (Point{}) {
		t.Fatalf("zoom=%v scroll=%+v", p.Zoom(), p.Scroll())
	}
	if w, h := p.BufferSize(); w != 40 || h != 40 {
		t.Fatalf("BufferSize = %dx%d", w, h)
	}
}

func TestMatrixInvert(t *testing.T) {
	m := Scale(2, 4).Multiply(Translate(3, -1))
	p := m.TransformPoint(Point{1, 1})
	back := m.Invert().TransformPoint(p)
	if !near(back.X, 1, 1e-12) || !near(back.Y, 1, 1e-12) {
		t.Fatalf("round trip = %+v", back)
	}
	r := m.TransformRect(Rect{0, 0, 1, 1})
	if r != (Rect{6, -4, 2, 4}) {
		t.Fatalf("TransformRect = %+v", r)
	}
}
