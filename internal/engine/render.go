package engine

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/gogpu/gg"
	xdraw "golang.org/x/image/draw"

	"github.com/pixelveil/pixelveil/backend-go/internal/effect"
	"github.com/pixelveil/pixelveil/backend-go/internal/region"
	"github.com/pixelveil/pixelveil/backend-go/internal/viewport"
)

var (
	outlineColor = color.NRGBA{R: 0, G: 120, B: 255, A: 220}
	draftColor   = color.NRGBA{R: 255, G: 64, B: 64, A: 255}
)

// Draft is the provisional rectangle of an in-progress drag, in image
// space. Width and Height may be negative while the pointer is left of or
// above the anchor.
type Draft struct {
	Rect   viewport.Rect
	Effect effect.Effect
}

// Renderer composes preview frames. It caches the source scaled to the
// current buffer size, so frames that only change regions skip rescaling.
type Renderer struct {
	src  *image.NRGBA
	base *image.NRGBA
}

// NewRenderer creates a renderer with an empty cache.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Resize drops the cached base if the buffer size changed. Calling it
// between the two phases of an anchored zoom keeps the allocation out of
// the frame that follows.
func (r *Renderer) Resize(src *image.NRGBA, w, h int) {
	if r.base != nil && r.src == src && r.base.Rect.Dx() == w && r.base.Rect.Dy() == h {
		return
	}
	r.src = src
	r.base = nil
	if src == nil || w <= 0 || h <= 0 {
		return
	}
	r.base = image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(r.base, r.base.Bounds(), src, src.Bounds(), draw.Src, nil)
}

// Render produces one preview frame at the pipeline's buffer size: the
// scaled source with every committed region applied, dashed outlines over
// each region and the draft rectangle, if any, on top.
func (r *Renderer) Render(ctx context.Context, src *image.NRGBA, view *viewport.Pipeline, regions []region.Region, draft *Draft) (*image.RGBA, error) {
	bw, bh := view.BufferSize()
	r.Resize(src, bw, bh)
	if r.base == nil {
		return image.NewRGBA(image.Rect(0, 0, bw, bh)), nil
	}

	work := image.NewNRGBA(r.base.Rect)
	copy(work.Pix, r.base.Pix)

	m := view.ImageToBufferMatrix()
	if err := ApplyAll(ctx, work, regions, m); err != nil {
		return nil, err
	}

	frame := image.NewRGBA(work.Rect)
	draw.Draw(frame, frame.Rect, work, image.Point{}, draw.Src)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := drawOverlays(frame, m, regions, draft); err != nil {
		return nil, fmt.Errorf("draw overlays: %w", err)
	}
	return frame, nil
}

func drawOverlays(dst *image.RGBA, m viewport.Matrix2D, regions []region.Region, draft *Draft) error {
	if len(regions) == 0 && draft == nil {
		return nil
	}

	dc := gg.NewContext(dst.Rect.Dx(), dst.Rect.Dy())
	defer dc.Close()

	if len(regions) > 0 {
		dc.SetColor(outlineColor)
		dc.SetLineWidth(1)
		dc.SetDash(4, 3)
		for _, rg := range regions {
			b := m.TransformRect(viewport.Rect{X: rg.X, Y: rg.Y, Width: rg.Width, Height: rg.Height})
			dc.DrawRectangle(b.X+0.5, b.Y+0.5, b.Width-1, b.Height-1)
		}
		if err := dc.Stroke(); err != nil {
			return err
		}
	}

	if draft != nil {
		b := m.TransformRect(draft.Rect)
		switch e := draft.Effect.(type) {
		case effect.SolidFill:
			dc.SetColor(effect.Opaque(e.Color))
			dc.DrawRectangle(b.X, b.Y, b.Width, b.Height)
			if err := dc.Fill(); err != nil {
				return err
			}
		case effect.Pixelate:
			sx, _ := m.ScaleFactor()
			dash := max(float64(e.BlockSize)*sx, 2)
			dc.SetColor(draftColor)
			dc.SetLineWidth(2)
			dc.SetDash(dash, dash)
			dc.DrawRectangle(b.X+1, b.Y+1, b.Width-2, b.Height-2)
			if err := dc.Stroke(); err != nil {
				return err
			}
		}
	}

	draw.Draw(dst, dst.Rect, dc.Image(), image.Point{}, draw.Over)
	return nil
}
