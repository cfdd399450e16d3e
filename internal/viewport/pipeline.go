// Package viewport converts between the three coordinate spaces of the
// editor and owns the zoom/scroll view state.
//
//   - Image space: source pixels, 0..sourceWidth x 0..sourceHeight. Regions
//     are stored here.
//   - Buffer space: the zoomed raster surface being drawn to. Its size is the
//     fitted display size times the zoom level.
//   - Viewport space: pointer coordinates relative to the scroll container.
//
// The rendered size of the surface may differ from its buffer size (CSS or
// device pixel scaling), so viewport to buffer conversion corrects for that
// ratio before buffer to image conversion scales by source/buffer.
package viewport

import "math"

const (
	MinZoom         = 0.5
	MaxZoom         = 5.0
	ZoomStep        = 0.5
	WheelZoomFactor = 1.1
)

// Size is a width/height pair.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// zoomAnchor records where the pointer was, as a fraction of the buffer,
// when a zoom started. It is consumed by FinishZoom.
type zoomAnchor struct {
	fraction Point
	client   Point
}

// Pipeline holds the view state (zoom, scroll) and converts coordinates.
// The zero value is not usable; call New.
type Pipeline struct {
	source   Size
	viewport Size
	display  Size // buffer size at zoom 1

	zoom     float64
	scroll   Point   // in rendered pixels
	cssScale float64 // rendered size / buffer size

	anchor *zoomAnchor
}

// New returns a pipeline for a source image shown inside a viewport of the
// given size.
func New(source, viewport Size) *Pipeline {
	p := &Pipeline{}
	p.viewport = viewport
	p.Reset(source)
	return p
}

// Reset installs a new source image and returns the view to its defaults.
func (p *Pipeline) Reset(source Size) {
	p.source = source
	p.zoom = 1
	p.scroll = Point{}
	p.cssScale = 1
	p.anchor = nil
	p.fit()
}

// SetViewport updates the visible container size and refits the display.
func (p *Pipeline) SetViewport(viewport Size) {
	p.viewport = viewport
	p.fit()
	p.clampScroll()
}

// SetRenderedSize reports the on-screen size of the surface. The ratio to
// the current buffer size is kept across zoom changes.
func (p *Pipeline) SetRenderedSize(rendered Size) {
	bw, _ := p.BufferSize()
	if rendered.Width <= 0 || bw <= 0 {
		p.cssScale = 1
		return
	}
	p.cssScale = rendered.Width / float64(bw)
	p.clampScroll()
}

// fit computes the zoom-1 display size: the source scaled down to fit the
// viewport, never scaled up.
func (p *Pipeline) fit() {
	if p.source.Width <= 0 || p.source.Height <= 0 {
		p.display = Size{}
		return
	}
	scale := 1.0
	if p.viewport.Width > 0 && p.viewport.Height > 0 {
		scale = math.Min(1, math.Min(p.viewport.Width/p.source.Width, p.viewport.Height/p.source.Height))
	}
	p.display = Size{Width: p.source.Width * scale, Height: p.source.Height * scale}
}

func (p *Pipeline) Zoom() float64 { return p.zoom }
func (p *Pipeline) Scroll() Point { return p.scroll }
func (p *Pipeline) Source() Size { return p.source }
func (p *Pipeline) Viewport() Size { return p.viewport }
func (p *Pipeline) Anchored() bool { return p.anchor != nil }
func (p *Pipeline) CSSScale() float64 { return p.cssScale }

// BufferSize returns the pixel size of the zoomed raster buffer.
func (p *Pipeline) BufferSize() (int, int) {
	if p.display.Width <= 0 || p.display.Height <= 0 {
		return 0, 0
	}
	w := int(math.Round(p.display.Width * p.zoom))
	h := int(math.Round(p.display.Height * p.zoom))
	return max(w, 1), max(h, 1)
}

// RenderedSize returns the on-screen size of the surface.
func (p *Pipeline) RenderedSize() Size {
	bw, bh := p.BufferSize()
	return Size{Width: float64(bw) * p.cssScale, Height: float64(bh) * p.cssScale}
}

// ViewportToBuffer maps a pointer position to buffer pixels.
func (p *Pipeline) ViewportToBuffer(pt Point) Point {
	return p.viewportToBufferMatrix().TransformPoint(pt)
}

// BufferToImage maps buffer pixels to source image pixels.
func (p *Pipeline) BufferToImage(pt Point) Point {
	return p.ImageToBufferMatrix().Invert().TransformPoint(pt)
}

// ViewportToImage composes ViewportToBuffer and BufferToImage.
func (p *Pipeline) ViewportToImage(pt Point) Point {
	return p.BufferToImage(p.ViewportToBuffer(pt))
}

// ImageToViewport is the inverse of ViewportToImage.
func (p *Pipeline) ImageToViewport(pt Point) Point {
	m := p.viewportToBufferMatrix().Invert().Multiply(p.ImageToBufferMatrix())
	return m.TransformPoint(pt)
}

// ImageToBufferMatrix scales image space into buffer space. The renderer
// uses it to place regions on the preview.
func (p *Pipeline) ImageToBufferMatrix() Matrix2D {
	bw, bh := p.BufferSize()
	if bw == 0 || bh == 0 || p.source.Width <= 0 || p.source.Height <= 0 {
		return Identity()
	}
	return Scale(float64(bw)/p.source.Width, float64(bh)/p.source.Height)
}

// viewportToBufferMatrix undoes the scroll offset and then the rendered to
// buffer ratio.
func (p *Pipeline) viewportToBufferMatrix() Matrix2D {
	ratio := 1.0
	if p.cssScale > 0 {
		ratio = 1 / p.cssScale
	}
	return Scale(ratio, ratio).Multiply(Translate(p.scroll.X, p.scroll.Y))
}

// BeginZoom is the first phase of an anchored zoom. It records the fraction
// of the current buffer under the client point and installs the clamped
// zoom level. The caller resizes its buffer and then calls FinishZoom.
func (p *Pipeline) BeginZoom(target float64, client Point) {
	bw, bh := p.BufferSize()
	frac := Point{X: 0.5, Y: 0.5}
	if bw > 0 && bh > 0 {
		b := p.ViewportToBuffer(client)
		frac = Point{X: b.X / float64(bw), Y: b.Y / float64(bh)}
	}
	p.anchor = &zoomAnchor{fraction: frac, client: client}
	p.zoom = ClampZoom(target)
}

// FinishZoom is the second phase of an anchored zoom: it moves the scroll
// offset so the recorded fraction sits under the recorded client point again.
func (p *Pipeline) FinishZoom() {
	if p.anchor == nil {
		return
	}
	rendered := p.RenderedSize()
	p.scroll = Point{
		X: p.anchor.fraction.X*rendered.Width - p.anchor.client.X,
		Y: p.anchor.fraction.Y*rendered.Height - p.anchor.client.Y,
	}
	p.anchor = nil
	p.clampScroll()
}

// ZoomAt runs both zoom phases back to back.
func (p *Pipeline) ZoomAt(target float64, client Point) {
	p.BeginZoom(target, client)
	p.FinishZoom()
}

// Wheel zooms multiplicatively around the pointer. Negative deltaY zooms in.
func (p *Pipeline) Wheel(deltaY float64, client Point) {
	switch {
	case deltaY < 0:
		p.BeginZoom(p.zoom*WheelZoomFactor, client)
	case deltaY > 0:
		p.BeginZoom(p.zoom/WheelZoomFactor, client)
	}
}

// ZoomIn steps the zoom up by ZoomStep around the viewport center.
func (p *Pipeline) ZoomIn() {
	p.BeginZoom(p.zoom+ZoomStep, p.center())
}

// ZoomOut steps the zoom down by ZoomStep around the viewport center.
func (p *Pipeline) ZoomOut() {
	p.BeginZoom(p.zoom-ZoomStep, p.center())
}

// ZoomReset returns to zoom 1 and drops any pending anchor.
func (p *Pipeline) ZoomReset() {
	p.zoom = 1
	p.anchor = nil
	p.clampScroll()
}

// ScrollTo sets the scroll offset, clamped to the scrollable range.
func (p *Pipeline) ScrollTo(pt Point) {
	p.scroll = pt
	p.clampScroll()
}

// ScrollBy pans the view by a delta in rendered pixels.
func (p *Pipeline) ScrollBy(dx, dy float64) {
	p.ScrollTo(Point{X: p.scroll.X + dx, Y: p.scroll.Y + dy})
}

func (p *Pipeline) center() Point {
	return Point{X: p.viewport.Width / 2, Y: p.viewport.Height / 2}
}

func (p *Pipeline) clampScroll() {
	rendered := p.RenderedSize()
	maxX := math.Max(0, rendered.Width-p.viewport.Width)
	maxY := math.Max(0, rendered.Height-p.viewport.Height)
	p.scroll.X = math.Max(0, math.Min(p.scroll.X, maxX))
	p.scroll.Y = math.Max(0, math.Min(p.scroll.Y, maxY))
}

// ClampZoom forces z into [MinZoom, MaxZoom].
func ClampZoom(z float64) float64 {
	if math.IsNaN(z) {
		return 1
	}
	return math.Max(MinZoom, math.Min(MaxZoom, z))
}
