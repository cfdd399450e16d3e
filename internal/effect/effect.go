// Package effect implements the destructive pixel effects used to redact
// image regions. Every effect overwrites pixel data in place; nothing here can
// be undone from the output alone.
package effect

import (
	"fmt"
	"image/color"
	"strings"
)

// Kind names an effect for serialization.
type Kind string

const (
	KindPixelate  Kind = "pixelate"
	KindSolidFill Kind = "solid"
)

const (
	MinBlockSize     = 4
	MaxBlockSize     = 50
	DefaultBlockSize = 12
)

// Effect is a closed set of redaction effects. The unexported method keeps
// implementations inside this package so type switches over Effect stay
// exhaustive.
type Effect interface {
	Kind() Kind
	isEffect()
}

// Pixelate replaces each BlockSize x BlockSize block with its mean color.
type Pixelate struct {
	BlockSize int
}

// SolidFill paints the region with a single opaque color.
type SolidFill struct {
	Color color.NRGBA
}

func (Pixelate) Kind() Kind  { return KindPixelate }
func (SolidFill) Kind() Kind { return KindSolidFill }
func (Pixelate) isEffect()   {}
func (SolidFill) isEffect()  {}

// ClampBlockSize forces a block size into [MinBlockSize, MaxBlockSize].
func ClampBlockSize(n int) int {
	if n < MinBlockSize {
		return MinBlockSize
	}
	if n > MaxBlockSize {
		return MaxBlockSize
	}
	return n
}

// Opaque returns c with full alpha.
func Opaque(c color.NRGBA) color.NRGBA {
	c.A = 0xff
	return c
}

// Normalize returns e with its parameters forced into their valid ranges.
func Normalize(e Effect) Effect {
	switch e := e.(type) {
	case Pixelate:
		return Pixelate{BlockSize: ClampBlockSize(e.BlockSize)}
	case SolidFill:
		return SolidFill{Color: Opaque(e.Color)}
	default:
		panic(fmt.Sprintf("effect: unknown effect %T", e))
	}
}

// ParseHexColor parses "#rrggbb" or "rrggbb" into an opaque color.
func ParseHexColor(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}, nil
}

// HexColor formats c as "#rrggbb", ignoring alpha.
func HexColor(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
