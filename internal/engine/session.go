package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/pixelveil/pixelveil/backend-go/internal/effect"
	"github.com/pixelveil/pixelveil/backend-go/internal/region"
	"github.com/pixelveil/pixelveil/backend-go/internal/typeid"
	"github.com/pixelveil/pixelveil/backend-go/internal/viewport"
)

// State is the readiness of a session.
type State int

const (
	NotReady State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "not-ready"
}

// Capabilities describes what the hosting surface supports. They are fixed
// when the session is created.
type Capabilities struct {
	Export       bool `json:"export"`
	ReplaceImage bool `json:"replaceImage"`
	MaxPixels    int  `json:"maxPixels"` // 0 means unlimited
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used by the session.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithCapabilities sets the host capabilities.
func WithCapabilities(c Capabilities) Option {
	return func(s *Session) { s.caps = c }
}

// WithViewport sets the initial size of the visible container.
func WithViewport(size viewport.Size) Option {
	return func(s *Session) { s.viewportSize = size }
}

// WithTool sets the initial drawing effect.
func WithTool(e effect.Effect) Option {
	return func(s *Session) { s.tool = effect.Normalize(e) }
}

// WithFrames renders a frame on src after every state change and hands it
// to present. Without it the caller renders explicitly.
func WithFrames(src FrameSource, present func(*image.RGBA)) Option {
	return func(s *Session) {
		s.frames = src
		s.present = present
	}
}

type drag struct {
	anchor  viewport.Point
	current viewport.Point
	effect  effect.Effect
}

// Session is one editing session over one source image. It is not safe for
// concurrent use; drive it from a single goroutine.
type Session struct {
	id     string
	logger *slog.Logger
	caps   Capabilities
	state  State

	src      *image.NRGBA
	store    *region.Store
	view     *viewport.Pipeline
	renderer *Renderer
	tool     effect.Effect
	drag     *drag

	viewportSize viewport.Size
	frames       FrameSource
	present      func(*image.RGBA)
	sched        *Scheduler
}

// NewSession creates a session in the NotReady state.
func NewSession(opts ...Option) *Session {
	s := &Session{
		id:       typeid.NewSessionID(),
		logger:   slog.Default(),
		store:    region.NewStore(),
		renderer: NewRenderer(),
		tool:     effect.Pixelate{BlockSize: effect.DefaultBlockSize},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.view = viewport.New(viewport.Size{}, s.viewportSize)
	if s.frames != nil {
		s.sched = NewScheduler(s.frames, s.renderFrame)
	}
	return s
}

func (s *Session) ID() string                 { return s.id }
func (s *Session) State() State               { return s.state }
func (s *Session) Capabilities() Capabilities { return s.caps }
func (s *Session) Tool() effect.Effect        { return s.tool }

// Load decodes a source image and makes the session Ready. Any previous
// source, regions, history and view state are discarded.
func (s *Session) Load(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%w: read: %w", ErrDecode, err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		s.state = NotReady
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if s.caps.MaxPixels > 0 && cfg.Width*cfg.Height > s.caps.MaxPixels {
		s.state = NotReady
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, s.caps.MaxPixels)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		s.state = NotReady
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if err := s.LoadImage(img); err != nil {
		return err
	}
	s.logger.Info("source decoded", "session", s.id, "format", format, "width", cfg.Width, "height", cfg.Height)
	return nil
}

// LoadImage installs an already decoded source image.
func (s *Session) LoadImage(img image.Image) error {
	if img == nil || img.Bounds().Empty() {
		s.state = NotReady
		return fmt.Errorf("%w: empty image", ErrDecode)
	}

	b := img.Bounds()
	src := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(src, src.Rect, img, b.Min, draw.Src)

	s.src = src
	s.store = region.NewStore()
	s.drag = nil
	if s.frames != nil && s.sched == nil {
		s.sched = NewScheduler(s.frames, s.renderFrame)
	}
	s.view.Reset(viewport.Size{Width: float64(b.Dx()), Height: float64(b.Dy())})
	s.state = Ready
	s.changed()
	return nil
}

// Source returns the decoded source image. It must not be modified.
func (s *Session) Source() *image.NRGBA { return s.src }

// Regions returns the committed regions in application order.
func (s *Session) Regions() []region.Region { return s.store.Regions() }

func (s *Session) CanUndo() bool { return s.state == Ready && s.store.CanUndo() }
func (s *Session) CanRedo() bool { return s.state == Ready && s.store.CanRedo() }

// SetTool selects the effect applied to regions drawn from now on.
func (s *Session) SetTool(e effect.Effect) {
	if e == nil {
		return
	}
	s.tool = effect.Normalize(e)
	if s.drag != nil {
		s.drag.effect = s.tool
		s.changed()
	}
}

// AddRegion commits a region in image space with the current tool.
func (s *Session) AddRegion(x, y, w, h float64) (string, bool) {
	return s.AddRegionEffect(x, y, w, h, s.tool)
}

// AddRegionEffect commits a region in image space with an explicit effect.
func (s *Session) AddRegionEffect(x, y, w, h float64, e effect.Effect) (string, bool) {
	if s.state != Ready {
		return "", false
	}
	id, ok := s.store.Add(x, y, w, h, e)
	if !ok {
		s.logger.Debug("region rejected", "session", s.id, "error", ErrInvalidRegion,
			"x", x, "y", y, "width", w, "height", h)
		return "", false
	}
	s.changed()
	return id, true
}

// RemoveRegion deletes a region by id.
func (s *Session) RemoveRegion(id string) bool {
	if s.state != Ready {
		return false
	}
	s.store.Remove(id)
	s.changed()
	return true
}

// ReplaceRegions installs a full collection received from another surface
// as one undoable step.
func (s *Session) ReplaceRegions(regions []region.Region) bool {
	if s.state != Ready {
		return false
	}
	s.store.Replace(regions)
	s.changed()
	return true
}

// ClearAll removes every region and discards the history.
func (s *Session) ClearAll() bool {
	if s.state != Ready {
		return false
	}
	s.store.Clear()
	s.changed()
	return true
}

func (s *Session) Undo() bool {
	if s.state != Ready || !s.store.Undo() {
		return false
	}
	s.changed()
	return true
}

func (s *Session) Redo() bool {
	if s.state != Ready || !s.store.Redo() {
		return false
	}
	s.changed()
	return true
}

// PointerDown starts a drag at a viewport position.
func (s *Session) PointerDown(client viewport.Point) bool {
	if s.state != Ready {
		return false
	}
	p := s.view.ViewportToImage(client)
	s.drag = &drag{anchor: p, current: p, effect: s.tool}
	s.changed()
	return true
}

// PointerMove updates the provisional rectangle of an active drag.
func (s *Session) PointerMove(client viewport.Point) bool {
	if s.drag == nil {
		return false
	}
	s.drag.current = s.view.ViewportToImage(client)
	s.changed()
	return true
}

// PointerUp ends a drag and commits its rectangle. A release outside the
// surface is a normal release. Rectangles below the minimum size are
// discarded and ok is false.
func (s *Session) PointerUp(client viewport.Point) (string, bool) {
	if s.drag == nil {
		return "", false
	}
	d := s.drag
	d.current = s.view.ViewportToImage(client)
	s.drag = nil

	r := viewport.RectFromPoints(d.anchor, d.current)
	id, ok := s.store.Add(r.X, r.Y, r.Width, r.Height, d.effect)
	if !ok {
		s.logger.Debug("drag discarded", "session", s.id, "error", ErrInvalidRegion)
	}
	s.changed()
	return id, ok
}

// Draft returns the provisional rectangle of the active drag.
func (s *Session) Draft() (Draft, bool) {
	if s.drag == nil {
		return Draft{}, false
	}
	return Draft{Rect: viewport.RectFromPoints(s.drag.anchor, s.drag.current), Effect: s.drag.effect}, true
}

// Wheel zooms around the pointer. Negative deltaY zooms in.
func (s *Session) Wheel(deltaY float64, client viewport.Point) {
	s.zoom(func() { s.view.Wheel(deltaY, client) })
}

func (s *Session) ZoomIn()  { s.zoom(s.view.ZoomIn) }
func (s *Session) ZoomOut() { s.zoom(s.view.ZoomOut) }

// ZoomTo zooms to an absolute level anchored at client.
func (s *Session) ZoomTo(level float64, client viewport.Point) {
	s.zoom(func() { s.view.BeginZoom(level, client) })
}

// ZoomReset returns to zoom 1.
func (s *Session) ZoomReset() {
	s.zoom(s.view.ZoomReset)
}

// zoom runs the first phase, resizes the preview buffer and then re-anchors
// the scroll offset against the new size.
func (s *Session) zoom(begin func()) {
	if s.state != Ready {
		return
	}
	begin()
	bw, bh := s.view.BufferSize()
	s.renderer.Resize(s.src, bw, bh)
	s.view.FinishZoom()
	s.changed()
}

// ScrollBy pans the view.
func (s *Session) ScrollBy(dx, dy float64) {
	if s.state != Ready {
		return
	}
	s.view.ScrollBy(dx, dy)
	s.changed()
}

// SetViewport reports a new container size.
func (s *Session) SetViewport(size viewport.Size) {
	s.viewportSize = size
	s.view.SetViewport(size)
	s.changed()
}

// SetRenderedSize reports the on-screen size of the preview surface.
func (s *Session) SetRenderedSize(size viewport.Size) {
	s.view.SetRenderedSize(size)
}

// View exposes the coordinate pipeline for read-only queries.
func (s *Session) View() *viewport.Pipeline { return s.view }

// Snapshot summarizes the session for hosts.
type Snapshot struct {
	ID           string         `json:"id"`
	State        string         `json:"state"`
	Capabilities Capabilities   `json:"capabilities"`
	Zoom         float64        `json:"zoom"`
	Scroll       viewport.Point `json:"scroll"`
	BufferWidth  int            `json:"bufferWidth"`
	BufferHeight int            `json:"bufferHeight"`
	SourceWidth  int            `json:"sourceWidth"`
	SourceHeight int            `json:"sourceHeight"`
	RegionCount  int            `json:"regionCount"`
	CanUndo      bool           `json:"canUndo"`
	CanRedo      bool           `json:"canRedo"`
	Dragging     bool           `json:"dragging"`
	Tool         effect.Kind    `json:"tool"`
	BlockSize    int            `json:"blockSize,omitempty"`
	FillColor    string         `json:"fillColor,omitempty"`
}

// Snapshot returns the current session summary.
func (s *Session) Snapshot() Snapshot {
	bw, bh := s.view.BufferSize()
	snap := Snapshot{
		ID:           s.id,
		State:        s.state.String(),
		Capabilities: s.caps,
		Zoom:         s.view.Zoom(),
		Scroll:       s.view.Scroll(),
		BufferWidth:  bw,
		BufferHeight: bh,
		RegionCount:  s.store.Len(),
		CanUndo:      s.CanUndo(),
		CanRedo:      s.CanRedo(),
		Dragging:     s.drag != nil,
		Tool:         s.tool.Kind(),
	}
	if s.src != nil {
		snap.SourceWidth = s.src.Rect.Dx()
		snap.SourceHeight = s.src.Rect.Dy()
	}
	switch e := s.tool.(type) {
	case effect.Pixelate:
		snap.BlockSize = e.BlockSize
	case effect.SolidFill:
		snap.FillColor = effect.HexColor(e.Color)
	}
	return snap
}

// Render draws one preview frame synchronously.
func (s *Session) Render(ctx context.Context) (*image.RGBA, error) {
	if s.state != Ready {
		return nil, ErrNotReady
	}
	var draft *Draft
	if d, ok := s.Draft(); ok {
		draft = &d
	}
	return s.renderer.Render(ctx, s.src, s.view, s.store.Regions(), draft)
}

func (s *Session) renderFrame(ctx context.Context) {
	frame, err := s.Render(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrNotReady) {
			s.logger.Error("render failed", "session", s.id, "error", err)
		}
		return
	}
	if s.present != nil {
		s.present(frame)
	}
}

// Export produces the finalized full-resolution PNG. A failure leaves the
// session untouched so the export can be retried.
func (s *Session) Export(ctx context.Context) ([]byte, error) {
	if s.state != Ready {
		return nil, ErrNotReady
	}
	regions := s.store.Regions()
	data, err := Export(ctx, s.src, regions)
	if err != nil {
		s.logger.Warn("export failed", "session", s.id, "error", err)
		return nil, err
	}
	s.logger.Info("export complete", "session", s.id, "regions", len(regions), "size", len(data))
	return data, nil
}

// Cancel discards the session without committing anything. The session
// is NotReady afterwards.
func (s *Session) Cancel() {
	if s.sched != nil {
		s.sched.Stop()
		s.sched = nil
	}
	s.drag = nil
	s.src = nil
	s.store = region.NewStore()
	s.renderer = NewRenderer()
	s.state = NotReady
	s.logger.Info("session cancelled", "session", s.id)
}

func (s *Session) changed() {
	if s.sched != nil {
		s.sched.Request()
	}
}
