package engine

import (
	"context"
	"image"
	"testing"

	"github.com/pixelveil/pixelveil/backend-go/internal/viewport"
)

func TestSchedulerCoalescesRequests(t *testing.T) {
	frames := NewManualFrames()
	renders := 0
	s := NewScheduler(frames, func(context.Context) { renders++ })

	s.Request()
	s.Request()
	s.Request()
	if !s.Pending() {
		t.Fatal("no pending render after Request")
	}

	if n := frames.Tick(); n != 1 {
		t.Fatalf("callbacks run = %d, want 1", n)
	}
	if renders != 1 {
		t.Fatalf("renders = %d, want 1", renders)
	}
	if s.Superseded() != 2 {
		t.Fatalf("superseded = %d, want 2", s.Superseded())
	}
	if s.Pending() {
		t.Fatal("render still pending after tick")
	}
	if frames.Tick() != 0 || renders != 1 {
		t.Fatal("idle tick rendered")
	}
}

func TestSchedulerCancelsStaleRender(t *testing.T) {
	frames := NewManualFrames()
	var s *Scheduler
	var stale error
	first := true
	s = NewScheduler(frames, func(ctx context.Context) {
		if first {
			first = false
			s.Request()
			stale = ctx.Err()
		}
	})

	s.Request()
	frames.Tick()
	if stale != context.Canceled {
		t.Fatalf("in-flight ctx err = %v, want context.Canceled", stale)
	}
	if !s.Pending() {
		t.Fatal("request made during render was lost")
	}
}

func TestSchedulerStop(t *testing.T) {
	frames := NewManualFrames()
	renders := 0
	s := NewScheduler(frames, func(context.Context) { renders++ })
	s.Request()
	s.Stop()
	s.Request()
	frames.Tick()
	if renders != 0 {
		t.Fatalf("renders = %d after Stop", renders)
	}
}

func TestSessionRendersOncePerFrame(t *testing.T) {
	frames := NewManualFrames()
	var presented []*image.RGBA
	s := NewSession(
		WithLogger(quietLogger()),
		WithFrames(frames, func(img *image.RGBA) { presented = append(presented, img) }),
	)
	if err := s.LoadImage(gradient(30, 30)); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	s.PointerDown(viewport.Point{X: 1, Y: 1})
	for i := 2; i < 20; i++ {
		s.PointerMove(viewport.Point{X: float64(i), Y: float64(i)})
	}
	s.PointerUp(viewport.Point{X: 20, Y: 20})

	frames.Tick()
	if len(presented) != 1 {
		t.Fatalf("frames presented = %d, want 1", len(presented))
	}
	if presented[0].Rect.Dx() != 30 {
		t.Fatalf("frame width = %d", presented[0].Rect.Dx())
	}
}

func TestSessionRendersAgainAfterCancelAndReload(t *testing.T) {
	frames := NewManualFrames()
	presented := 0
	s := NewSession(
		WithLogger(quietLogger()),
		WithFrames(frames, func(*image.RGBA) { presented++ }),
	)
	if err := s.LoadImage(gradient(30, 30)); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	frames.Tick()
	if presented != 1 {
		t.Fatalf("first session frames = %d, want 1", presented)
	}

	s.Cancel()
	if err := s.LoadImage(gradient(30, 30)); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := s.AddRegion(1, 1, 10, 10); !ok {
		t.Fatal("AddRegion rejected after reload")
	}
	if n := frames.Tick(); n != 1 {
		t.Fatalf("callbacks after reload = %d, want 1", n)
	}
	if presented != 2 {
		t.Fatalf("frames after reload = %d, want 2", presented)
	}
}
