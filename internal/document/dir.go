package document

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pixelveil/pixelveil/backend-go/internal/typeid"
)

const manifestName = "manifest.json"

// DirIntegration keeps a document's images as PNG files in a directory,
// with placements recorded in manifest.json next to them.
type DirIntegration struct {
	dir string
	mu  sync.RWMutex
}

var _ Integration = (*DirIntegration)(nil)

// NewDirIntegration opens (creating if needed) an image directory.
func NewDirIntegration(dir string) (*DirIntegration, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &DirIntegration{dir: dir}, nil
}

// ListImages returns every image with its encoded pixels.
func (d *DirIntegration) ListImages(ctx context.Context) ([]ImageRef, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m, err := d.readManifest()
	if err != nil {
		return nil, err
	}
	refs := make([]ImageRef, 0, len(m.Images))
	for _, e := range m.Images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(d.path(e.ID))
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", e.ID, err)
		}
		refs = append(refs, e.ref(data))
	}
	return refs, nil
}

// Image returns a single image.
func (d *DirIntegration) Image(ctx context.Context, id string) (ImageRef, error) {
	if err := typeid.Validate(id, typeid.PrefixImage); err != nil {
		return ImageRef{}, ErrImageNotFound
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	m, err := d.readManifest()
	if err != nil {
		return ImageRef{}, err
	}
	i := m.find(id)
	if i < 0 {
		return ImageRef{}, ErrImageNotFound
	}
	data, err := os.ReadFile(d.path(id))
	if err != nil {
		return ImageRef{}, fmt.Errorf("read image %s: %w", id, err)
	}
	return m.Images[i].ref(data), nil
}

// AddImage decodes r (PNG or JPEG), stores it re-encoded as PNG and
// records its placement. A zero placement defaults to the pixel size.
func (d *DirIntegration) AddImage(ctx context.Context, name string, r io.Reader, at Placement) (ImageRef, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return ImageRef{}, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return ImageRef{}, fmt.Errorf("encode png: %w", err)
	}

	b := img.Bounds()
	if at.Width <= 0 || at.Height <= 0 {
		at.Width, at.Height = float64(b.Dx()), float64(b.Dy())
	}
	entry := manifestEntry{
		ID:          typeid.NewImageID(),
		Name:        name,
		Placement:   at,
		PixelWidth:  b.Dx(),
		PixelHeight: b.Dy(),
		UpdatedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readManifest()
	if err != nil {
		return ImageRef{}, err
	}
	if err := writeFileAtomic(d.path(entry.ID), buf.Bytes()); err != nil {
		return ImageRef{}, fmt.Errorf("write image: %w", err)
	}
	m.Images = append(m.Images, entry)
	if err := d.writeManifest(m); err != nil {
		os.Remove(d.path(entry.ID))
		return ImageRef{}, err
	}

	slog.Info("image added", "id", entry.ID, "name", name, "width", b.Dx(), "height", b.Dy())
	return entry.ref(buf.Bytes()), nil
}

// ReplaceImage overwrites an image's pixels with PNG data. The placement is
// kept; the pixel size is refreshed from the new data.
func (d *DirIntegration) ReplaceImage(ctx context.Context, id string, encoded []byte) error {
	if err := typeid.Validate(id, typeid.PrefixImage); err != nil {
		return ErrImageNotFound
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	if format != "png" {
		return fmt.Errorf("%w: replacement must be png, got %s", ErrInvalidImage, format)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readManifest()
	if err != nil {
		return err
	}
	i := m.find(id)
	if i < 0 {
		return ErrImageNotFound
	}
	if err := writeFileAtomic(d.path(id), encoded); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	m.Images[i].PixelWidth = cfg.Width
	m.Images[i].PixelHeight = cfg.Height
	m.Images[i].UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := d.writeManifest(m); err != nil {
		return err
	}

	slog.Info("image replaced", "id", id, "size", len(encoded))
	return nil
}

// Delete removes an image and its manifest entry.
func (d *DirIntegration) Delete(ctx context.Context, id string) error {
	if err := typeid.Validate(id, typeid.PrefixImage); err != nil {
		return ErrImageNotFound
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	m, err := d.readManifest()
	if err != nil {
		return err
	}
	i := m.find(id)
	if i < 0 {
		return ErrImageNotFound
	}
	m.Images = append(m.Images[:i], m.Images[i+1:]...)
	if err := d.writeManifest(m); err != nil {
		return err
	}
	if err := os.Remove(d.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

func (d *DirIntegration) path(id string) string {
	return filepath.Join(d.dir, id+".png")
}

func (d *DirIntegration) readManifest() (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(d.dir, manifestName))
	if errors.Is(err, os.ErrNotExist) {
		return &manifest{Version: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

func (d *DirIntegration) writeManifest(m *manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(d.dir, manifestName), data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
