package engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/pixelveil/pixelveil/backend-go/internal/effect"
	"github.com/pixelveil/pixelveil/backend-go/internal/viewport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func readySession(t *testing.T, w, h int, opts ...Option) *Session {
	t.Helper()
	s := NewSession(append([]Option{WithLogger(quietLogger())}, opts...)...)
	if err := s.Load(bytes.NewReader(encodePNG(t, gradient(w, h)))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func TestNotReadySessionIgnoresOperations(t *testing.T) {
	s := NewSession(WithLogger(quietLogger()))
	if s.State() != NotReady {
		t.Fatalf("state = %v", s.State())
	}
	if _, ok := s.AddRegion(0, 0, 10, 10); ok {
		t.Fatal("AddRegion succeeded before load")
	}
	if s.PointerDown(viewport.Point{X: 1, Y: 1}) {
		t.Fatal("PointerDown succeeded before load")
	}
	if s.Undo() || s.Redo() || s.ClearAll() {
		t.Fatal("history operation succeeded before load")
	}
	if _, err := s.Export(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Export err = %v, want ErrNotReady", err)
	}
	if _, err := s.Render(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Render err = %v, want ErrNotReady", err)
	}
}

func TestLoadRejectsUndecodableInput(t *testing.T) {
	s := NewSession(WithLogger(quietLogger()))
	err := s.Load(strings.NewReader("definitely not an image"))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
	if s.State() != NotReady {
		t.Fatal("session became ready after decode failure")
	}
}

func TestLoadEnforcesMaxPixels(t *testing.T) {
	s := NewSession(WithLogger(quietLogger()), WithCapabilities(Capabilities{MaxPixels: 100}))
	err := s.Load(bytes.NewReader(encodePNG(t, gradient(20, 20))))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

func TestDragCommitsRegionInImageSpace(t *testing.T) {
	s := readySession(t, 100, 100)

	s.PointerDown(viewport.Point{X: 40, Y: 30})
	s.PointerMove(viewport.Point{X: 20, Y: 20})
	d, ok := s.Draft()
	if !ok || d.Rect != (viewport.Rect{X: 40, Y: 30, Width: -20, Height: -10}) {
		t.Fatalf("draft = %+v, %v", d, ok)
	}

	// Released outside the surface.
	id, ok := s.PointerUp(viewport.Point{X: -50, Y: 10})
	if !ok {
		t.Fatal("drag not committed")
	}
	if _, dragging := s.Draft(); dragging {
		t.Fatal("draft survived PointerUp")
	}
	r := s.Regions()[0]
	if r.ID != id || r.X != -50 || r.Y != 10 || r.Width != 90 || r.Height != 20 {
		t.Fatalf("region = %+v", r)
	}
}

func TestTinyDragIsDiscarded(t *testing.T) {
	s := readySession(t, 100, 100)
	s.PointerDown(viewport.Point{X: 10, Y: 10})
	if _, ok := s.PointerUp(viewport.Point{X: 11, Y: 11}); ok {
		t.Fatal("1x1 drag committed")
	}
	if len(s.Regions()) != 0 || s.CanUndo() {
		t.Fatal("rejected drag changed the collection or history")
	}
	if _, ok := s.PointerUp(viewport.Point{}); ok {
		t.Fatal("PointerUp without PointerDown committed")
	}
}

func TestToolAppliesToNewRegions(t *testing.T) {
	s := readySession(t, 50, 50)
	s.SetTool(effect.SolidFill{Color: red})
	id, _ := s.AddRegion(0, 0, 10, 10)
	s.SetTool(effect.Pixelate{BlockSize: 100})
	id2, _ := s.AddRegion(0, 0, 10, 10)

	regions := s.Regions()
	if regions[0].ID != id || regions[0].Effect != (effect.SolidFill{Color: red}) {
		t.Fatalf("first region = %+v", regions[0])
	}
	if regions[1].ID != id2 || regions[1].Effect != (effect.Pixelate{BlockSize: effect.MaxBlockSize}) {
		t.Fatalf("second region = %+v", regions[1])
	}
	if snap := s.Snapshot(); snap.Tool != effect.KindPixelate || snap.BlockSize != effect.MaxBlockSize {
		t.Fatalf("snapshot tool = %v/%d", snap.Tool, snap.BlockSize)
	}
}

func TestSessionHistory(t *testing.T) {
	s := readySession(t, 50, 50)
	a, _ := s.AddRegion(0, 0, 10, 10)
	s.AddRegion(10, 10, 10, 10)
	s.RemoveRegion(a)

	if !s.Undo() || len(s.Regions()) != 2 {
		t.Fatal("undo of remove failed")
	}
	if !s.Redo() || len(s.Regions()) != 1 {
		t.Fatal("redo of remove failed")
	}
	s.ClearAll()
	if s.CanUndo() || s.CanRedo() || len(s.Regions()) != 0 {
		t.Fatal("ClearAll kept history")
	}
}

func TestLoadResetsSession(t *testing.T) {
	s := readySession(t, 200, 200, WithViewport(viewport.Size{Width: 100, Height: 100}))
	s.AddRegion(0, 0, 10, 10)
	s.ZoomIn()

	if err := s.Load(bytes.NewReader(encodePNG(t, gradient(30, 30)))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := s.Snapshot()
	if snap.RegionCount != 0 || snap.CanUndo || snap.Zoom != 1 || snap.Scroll != (viewport.Point{}) {
		t.Fatalf("snapshot after reload = %+v", snap)
	}
	if snap.SourceWidth != 30 || snap.BufferWidth != 30 {
		t.Fatalf("sizes = %d/%d", snap.SourceWidth, snap.BufferWidth)
	}
}

func TestWheelKeepsPointUnderPointer(t *testing.T) {
	s := readySession(t, 400, 300, WithViewport(viewport.Size{Width: 200, Height: 150}))
	s.ZoomTo(2, viewport.Point{})
	pointer := viewport.Point{X: 120, Y: 40}
	before := s.View().ViewportToImage(pointer)

	s.Wheel(-1, pointer)

	after := s.View().ImageToViewport(before)
	if !near(after.X, pointer.X, 1) || !near(after.Y, pointer.Y, 1) {
		t.Fatalf("anchor drifted from %+v to %+v", pointer, after)
	}
	if s.View().Anchored() {
		t.Fatal("zoom anchor left pending")
	}
}

func TestRenderMatchesBufferSize(t *testing.T) {
	s := readySession(t, 80, 60, WithViewport(viewport.Size{Width: 40, Height: 30}))
	s.SetTool(effect.SolidFill{Color: red})
	s.AddRegion(20, 20, 40, 20)
	s.ZoomTo(2, viewport.Point{})

	frame, err := s.Render(context.Background())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	bw, bh := s.View().BufferSize()
	if frame.Rect.Dx() != bw || frame.Rect.Dy() != bh {
		t.Fatalf("frame %v, buffer %dx%d", frame.Rect, bw, bh)
	}
	// Image (40,30) maps to the middle of the filled region in the buffer.
	p := s.View().ImageToBufferMatrix().TransformPoint(viewport.Point{X: 40, Y: 30})
	r, g, b, _ := frame.At(int(p.X), int(p.Y)).RGBA()
	if r>>8 != 255 || g != 0 || b != 0 {
		t.Fatalf("region center = %d,%d,%d, want red", r>>8, g, b)
	}
}

func TestRenderShowsDraft(t *testing.T) {
	s := readySession(t, 40, 40)
	plain, err := s.Render(context.Background())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	s.SetTool(effect.SolidFill{Color: blue})
	s.PointerDown(viewport.Point{X: 5, Y: 5})
	s.PointerMove(viewport.Point{X: 30, Y: 30})
	withDraft, err := s.Render(context.Background())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if bytes.Equal(plain.Pix, withDraft.Pix) {
		t.Fatal("draft not drawn")
	}
	if len(s.Regions()) != 0 {
		t.Fatal("draft was committed before release")
	}
}

func TestExportFailureKeepsSession(t *testing.T) {
	s := readySession(t, 20, 20)
	s.AddRegion(0, 0, 10, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Export(ctx); !errors.Is(err, ErrExport) {
		t.Fatalf("err = %v, want ErrExport", err)
	}
	if s.State() != Ready || len(s.Regions()) != 1 {
		t.Fatal("failed export changed session state")
	}
	if _, err := s.Export(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestCancelDiscardsSession(t *testing.T) {
	s := readySession(t, 20, 20)
	s.AddRegion(0, 0, 10, 10)
	s.PointerDown(viewport.Point{X: 1, Y: 1})
	s.Cancel()

	if s.State() != NotReady || len(s.Regions()) != 0 {
		t.Fatal("Cancel kept state")
	}
	if _, ok := s.PointerUp(viewport.Point{X: 15, Y: 15}); ok {
		t.Fatal("drag committed after Cancel")
	}
}

func near(a, b, eps float64) bool {
	d := a - b
	return d <= eps && d >= -eps
}
