package document

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(pngBytes(t, w, h, c)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestDirIntegrationRoundTrip(t *testing.T) {
	ctx := context.Background()
	d, err := NewDirIntegration(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirIntegration: %v", err)
	}

	ref, err := d.AddImage(ctx, "scan.png", bytes.NewReader(pngBytes(t, 8, 4, color.White)), Placement{X: 10, Y: 20})
	if err != nil {
		t.Fatalf("AddImage: %v", err)
	}
	if ref.PixelWidth != 8 || ref.PixelHeight != 4 || ref.Width != 8 || ref.Height != 4 {
		t.Fatalf("ref = %+v", ref)
	}

	replacement := pngBytes(t, 16, 8, color.Black)
	if err := d.ReplaceImage(ctx, ref.ID, replacement); err != nil {
		t.Fatalf("ReplaceImage: %v", err)
	}

	refs, err := d.ListImages(ctx)
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("len = %d", len(refs))
	}
	got := refs[0]
	if !bytes.Equal(got.EncodedPixels, replacement) {
		t.Fatal("replaced pixels not returned")
	}
	if got.X != 10 || got.Y != 20 || got.Width != 8 {
		t.Fatalf("placement changed: %+v", got)
	}
	if got.PixelWidth != 16 || got.PixelHeight != 8 {
		t.Fatalf("pixel size = %dx%d", got.PixelWidth, got.PixelHeight)
	}
}

func TestDirIntegrationErrors(t *testing.T) {
	ctx := context.Background()
	d, _ := NewDirIntegration(t.TempDir())
	ref, err := d.AddImage(ctx, "a.png", bytes.NewReader(pngBytes(t, 2, 2, color.White)), Placement{})
	if err != nil {
		t.Fatalf("AddImage: %v", err)
	}

	tests := []struct {
		name string
		id   string
		data []byte
		want error
	}{
		{"garbage pixels", ref.ID, []byte("nope"), ErrInvalidImage},
		{"lossy jpeg", ref.ID, jpegBytes(t, 2, 2, color.White), ErrInvalidImage},
		{"path traversal", "../manifest", pngBytes(t, 2, 2, color.White), ErrImageNotFound},
		{"unknown id", "img_01h2xcejqtf2nbrexx3vqjhp41", pngBytes(t, 2, 2, color.White), ErrImageNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := d.ReplaceImage(ctx, tt.id, tt.data); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := d.AddImage(ctx, "bad", bytes.NewReader([]byte("x")), Placement{}); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("AddImage err = %v", err)
	}
}

func TestDirIntegrationDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d, _ := NewDirIntegration(dir)
	ref, _ := d.AddImage(ctx, "a.png", bytes.NewReader(pngBytes(t, 2, 2, color.White)), Placement{})

	if err := d.Delete(ctx, ref.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ref.ID+".png")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("file still present: %v", err)
	}
	if _, err := d.Image(ctx, ref.ID); !errors.Is(err, ErrImageNotFound) {
		t.Fatalf("Image err = %v", err)
	}
}

func TestSeedSampleOnlyOnce(t *testing.T) {
	ctx := context.Background()
	d, _ := NewDirIntegration(t.TempDir())

	seeded, err := SeedSample(ctx, d)
	if err != nil || !seeded {
		t.Fatalf("first seed = %v, %v", seeded, err)
	}
	seeded, err = SeedSample(ctx, d)
	if err != nil || seeded {
		t.Fatalf("second seed = %v, %v", seeded, err)
	}
	refs, _ := d.ListImages(ctx)
	if len(refs) != 1 || refs[0].PixelWidth != 640 {
		t.Fatalf("refs = %+v", refs)
	}
}
