package document

import (
	"context"
	"errors"
)

var (
	ErrImageNotFound = errors.New("image not found")
	ErrInvalidImage  = errors.New("invalid image data")
)

// ImageRef describes one raster image embedded in a document. X, Y, Width
// and Height are the image's placement in document units; PixelWidth and
// PixelHeight are the size of the encoded raster. EncodedPixels is opaque
// to the editor and handed to the engine for decoding.
type ImageRef struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
	PixelWidth    int     `json:"pixelWidth"`
	PixelHeight   int     `json:"pixelHeight"`
	EncodedPixels []byte  `json:"-"`
}

// Integration is the document-side collaborator of the editor. Listing
// returns every embedded image; replacing overwrites one image's pixels in
// place and keeps its placement.
type Integration interface {
	ListImages(ctx context.Context) ([]ImageRef, error)
	ReplaceImage(ctx context.Context, id string, encoded []byte) error
}

// Placement positions an image inside the document.
type Placement struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// manifestEntry is the persisted metadata of one image.
type manifestEntry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Placement   Placement `json:"placement"`
	PixelWidth  int       `json:"pixelWidth"`
	PixelHeight int       `json:"pixelHeight"`
	UpdatedAt   string    `json:"updatedAt"`
}

type manifest struct {
	Version int             `json:"version"`
	Images  []manifestEntry `json:"images"`
}

func (m *manifest) find(id string) int {
	for i, e := range m.Images {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (e manifestEntry) ref(encoded []byte) ImageRef {
	return ImageRef{
		ID:            e.ID,
		Name:          e.Name,
		X:             e.Placement.X,
		Y:             e.Placement.Y,
		Width:         e.Placement.Width,
		Height:        e.Placement.Height,
		PixelWidth:    e.PixelWidth,
		PixelHeight:   e.PixelHeight,
		EncodedPixels: encoded,
	}
}
