package document

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/gogpu/gg"
)

// NewSampleImage draws a synthetic identity card: a header band, a photo
// box and rows of text-like bars. It gives the editor something with
// sharp edges to pixelate when no real document is loaded.
func NewSampleImage(width, height int) image.Image {
	dc := gg.NewContext(width, height)
	defer dc.Close()

	w, h := float64(width), float64(height)

	dc.SetRGB(0.96, 0.95, 0.92)
	dc.DrawRectangle(0, 0, w, h)
	dc.Fill()

	dc.SetRGB(0.10, 0.10, 0.18)
	dc.DrawRectangle(0, 0, w, h*0.18)
	dc.Fill()

	// Photo box with a head-and-shoulders silhouette.
	px, py, pw, ph := w*0.06, h*0.26, w*0.28, h*0.62
	dc.SetRGB(0.78, 0.82, 0.88)
	dc.DrawRectangle(px, py, pw, ph)
	dc.Fill()
	dc.SetRGB(0.35, 0.38, 0.45)
	dc.DrawCircle(px+pw/2, py+ph*0.38, pw*0.22)
	dc.Fill()
	dc.DrawEllipse(px+pw/2, py+ph, pw*0.42, ph*0.32)
	dc.Fill()

	// Text rows.
	dc.SetRGB(0.2, 0.2, 0.25)
	lx := w * 0.40
	for i := 0; i < 6; i++ {
		y := h*0.30 + float64(i)*h*0.1
		lw := w * (0.50 - 0.05*float64(i%3))
		dc.DrawRoundedRectangle(lx, y, lw, h*0.045, h*0.01)
	}
	dc.Fill()

	// Signature stroke.
	dc.SetRGB(0.1, 0.2, 0.6)
	dc.SetLineWidth(max(h*0.01, 1))
	dc.MoveTo(lx, h*0.9)
	dc.CubicTo(lx+w*0.1, h*0.8, lx+w*0.2, h*0.98, lx+w*0.35, h*0.86)
	dc.Stroke()

	return dc.Image()
}

// SeedSample adds the sample image to an empty directory integration.
func SeedSample(ctx context.Context, d *DirIntegration) (bool, error) {
	refs, err := d.ListImages(ctx)
	if err != nil {
		return false, err
	}
	if len(refs) > 0 {
		return false, nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, NewSampleImage(640, 400)); err != nil {
		return false, fmt.Errorf("encode sample: %w", err)
	}
	if _, err := d.AddImage(ctx, "sample-id-card.png", &buf, Placement{}); err != nil {
		return false, err
	}
	return true, nil
}
