// Package region holds the ordered collection of redaction regions and its
// undo/redo history.
package region

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/pixelveil/pixelveil/backend-go/internal/effect"
)

// MinSize is the smallest accepted width or height in image pixels.
const MinSize = 2.0

// Region is an immutable redaction instruction in source-image pixel space.
// Edits are modeled as remove + add.
type Region struct {
	ID     string
	X      float64
	Y      float64
	Width  float64
	Height float64
	Effect effect.Effect
}

// Normalize flips negative extents so that Width and Height are non-negative.
// It reports false if any coordinate is non-finite or the normalized size is
// below MinSize in either dimension.
func Normalize(x, y, w, h float64) (nx, ny, nw, nh float64, ok bool) {
	for _, v := range []float64{x, y, w, h} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, 0, 0, false
		}
	}
	if w < 0 {
		x, w = x+w, -w
	}
	if h < 0 {
		y, h = y+h, -h
	}
	if w < MinSize || h < MinSize {
		return 0, 0, 0, 0, false
	}
	return x, y, w, h, true
}

// Bounds returns the pixel rectangle covered by the region.
func (r Region) Bounds() image.Rectangle {
	return effect.PixelRect(r.X, r.Y, r.Width, r.Height)
}

// wireRegion is the JSON form shared by the wasm bridge, the HTTP API and
// the session handoff protocol.
type wireRegion struct {
	ID         string      `json:"id"`
	X          float64     `json:"x"`
	Y          float64     `json:"y"`
	Width      float64     `json:"width"`
	Height     float64     `json:"height"`
	EffectKind effect.Kind `json:"effectKind"`
	BlockSize  int         `json:"blockSize,omitempty"`
	FillColor  string      `json:"fillColor,omitempty"`
}

func (r Region) MarshalJSON() ([]byte, error) {
	w := wireRegion{
		ID:     r.ID,
		X:      r.X,
		Y:      r.Y,
		Width:  r.Width,
		Height: r.Height,
	}
	switch e := r.Effect.(type) {
	case effect.Pixelate:
		w.EffectKind = effect.KindPixelate
		w.BlockSize = e.BlockSize
	case effect.SolidFill:
		w.EffectKind = effect.KindSolidFill
		w.FillColor = effect.HexColor(e.Color)
	default:
		return nil, fmt.Errorf("region %s: unknown effect %T", r.ID, r.Effect)
	}
	return json.Marshal(w)
}

func (r *Region) UnmarshalJSON(data []byte) error {
	var w wireRegion
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	eff, err := ParseEffect(w.EffectKind, w.BlockSize, w.FillColor)
	if err != nil {
		return fmt.Errorf("region %s: %w", w.ID, err)
	}
	*r = Region{
		ID:     w.ID,
		X:      w.X,
		Y:      w.Y,
		Width:  w.Width,
		Height: w.Height,
		Effect: eff,
	}
	return nil
}

// ParseEffect builds an effect from its wire representation. Parameters are
// normalized into range.
func ParseEffect(kind effect.Kind, blockSize int, fillColor string) (effect.Effect, error) {
	switch kind {
	case effect.KindPixelate:
		if blockSize == 0 {
			blockSize = effect.DefaultBlockSize
		}
		return effect.Normalize(effect.Pixelate{BlockSize: blockSize}), nil
	case effect.KindSolidFill:
		c := color.NRGBA{A: 0xff}
		if fillColor != "" {
			parsed, err := effect.ParseHexColor(fillColor)
			if err != nil {
				return nil, err
			}
			c = parsed
		}
		return effect.SolidFill{Color: c}, nil
	default:
		return nil, fmt.Errorf("unknown effect kind %q", kind)
	}
}
