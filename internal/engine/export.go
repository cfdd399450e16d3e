package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"

	"github.com/pixelveil/pixelveil/backend-go/internal/effect"
	"github.com/pixelveil/pixelveil/backend-go/internal/region"
	"github.com/pixelveil/pixelveil/backend-go/internal/viewport"
)

// ApplyAll runs every region's effect over img in collection order, so a
// later region overwrites an earlier one where they overlap. m maps image
// space into img's pixel space; pixelation block sizes are scaled by the
// same horizontal factor, never below one pixel.
func ApplyAll(ctx context.Context, img *image.NRGBA, regions []region.Region, m viewport.Matrix2D) error {
	sx, _ := m.ScaleFactor()
	for _, r := range regions {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := m.TransformRect(viewport.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height})
		effect.Apply(img, effect.PixelRect(b.X, b.Y, b.Width, b.Height), scaleEffect(r.Effect, sx))
	}
	return nil
}

func scaleEffect(e effect.Effect, scale float64) effect.Effect {
	switch e := e.(type) {
	case effect.Pixelate:
		if scale == 1 {
			return e
		}
		n := int(math.Round(float64(e.BlockSize) * scale))
		return effect.Pixelate{BlockSize: max(n, 1)}
	case effect.SolidFill:
		return e
	default:
		panic(fmt.Sprintf("engine: unknown effect %T", e))
	}
}

// Flatten draws the unmodified source onto a fresh full-resolution buffer
// and applies every region to it. src is never written to.
func Flatten(ctx context.Context, src image.Image, regions []region.Region) (*image.NRGBA, error) {
	if src == nil {
		return nil, ErrNotReady
	}
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	if err := ApplyAll(ctx, dst, regions, viewport.Identity()); err != nil {
		return nil, err
	}
	return dst, nil
}

// Export flattens the regions into the source and encodes the result as
// PNG. Errors are wrapped with ErrExport; a cancelled ctx is reported as
// both ErrExport and the context error.
func Export(ctx context.Context, src image.Image, regions []region.Region) ([]byte, error) {
	img, err := Flatten(ctx, src, regions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExport, err)
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: encode png: %w", ErrExport, err)
	}
	return buf.Bytes(), nil
}
