package effect

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// coordinate limit for float to int conversion; far beyond any real image.
const maxCoord = 1 << 30

// PixelRect converts a floating-point rectangle to the smallest pixel
// rectangle covering it. Edges are floored and ceiled so a partially covered
// pixel is always treated as covered. Non-finite input yields an empty rect.
func PixelRect(x, y, w, h float64) image.Rectangle {
	for _, v := range []float64{x, y, w, h} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return image.Rectangle{}
		}
	}
	if w < 0 {
		x, w = x+w, -w
	}
	if h < 0 {
		y, h = y+h, -h
	}
	return image.Rect(
		clampCoord(math.Floor(x)),
		clampCoord(math.Floor(y)),
		clampCoord(math.Ceil(x+w)),
		clampCoord(math.Ceil(y+h)),
	).Canon()
}

func clampCoord(v float64) int {
	if v < -maxCoord {
		return -maxCoord
	}
	if v > maxCoord {
		return maxCoord
	}
	return int(v)
}

// Apply runs e over img inside r, clipped to the image bounds.
func Apply(img *image.NRGBA, r image.Rectangle, e Effect) {
	if img == nil {
		return
	}
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}

	switch e := e.(type) {
	case Pixelate:
		pixelate(img, r, e.BlockSize)
	case SolidFill:
		fill(img, r, Opaque(e.Color))
	default:
		panic(fmt.Sprintf("effect: unknown effect %T", e))
	}
}

// pixelate averages each block of r independently. Blocks are anchored at
// r.Min; the last row and column may be smaller than blockSize.
func pixelate(img *image.NRGBA, r image.Rectangle, blockSize int) {
	if blockSize < 1 {
		blockSize = 1
	}

	for by := r.Min.Y; by < r.Max.Y; by += blockSize {
		by1 := min(by+blockSize, r.Max.Y)
		for bx := r.Min.X; bx < r.Max.X; bx += blockSize {
			bx1 := min(bx+blockSize, r.Max.X)

			var sumR, sumG, sumB, sumA uint64
			for y := by; y < by1; y++ {
				off := img.PixOffset(bx, y)
				for x := bx; x < bx1; x++ {
					sumR += uint64(img.Pix[off+0])
					sumG += uint64(img.Pix[off+1])
					sumB += uint64(img.Pix[off+2])
					sumA += uint64(img.Pix[off+3])
					off += 4
				}
			}

			count := uint64((bx1 - bx) * (by1 - by))
			avg := [4]uint8{
				roundMean(sumR, count),
				roundMean(sumG, count),
				roundMean(sumB, count),
				roundMean(sumA, count),
			}

			for y := by; y < by1; y++ {
				off := img.PixOffset(bx, y)
				for x := bx; x < bx1; x++ {
					copy(img.Pix[off:off+4], avg[:])
					off += 4
				}
			}
		}
	}
}

// roundMean returns sum/count rounded to the nearest integer, halves up.
func roundMean(sum, count uint64) uint8 {
	return uint8((sum + count/2) / count)
}

func fill(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	px := [4]uint8{c.R, c.G, c.B, c.A}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := img.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x++ {
			copy(img.Pix[off:off+4], px[:])
			off += 4
		}
	}
}
