// Package export serves the finalizing operations: flattening redaction
// regions into an image and cleaning document archives.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/pixelveil/pixelveil/backend-go/internal/archive"
	"github.com/pixelveil/pixelveil/backend-go/internal/audit"
	"github.com/pixelveil/pixelveil/backend-go/internal/auth"
	"github.com/pixelveil/pixelveil/backend-go/internal/document"
	"github.com/pixelveil/pixelveil/backend-go/internal/engine"
	"github.com/pixelveil/pixelveil/backend-go/internal/region"
)

const defaultMaxPixels = 100_000_000

type Handler struct {
	images    document.Integration
	audit     *audit.Service
	maxUpload int64
	maxPixels int
}

func NewHandler(images document.Integration, auditSvc *audit.Service, maxUpload int64) *Handler {
	return &Handler{
		images:    images,
		audit:     auditSvc,
		maxUpload: maxUpload,
		maxPixels: defaultMaxPixels,
	}
}

// Redact handles POST /api/redact. The multipart form carries the source in
// "image" (or names a document image in "imageId"), the region collection
// as JSON in "regions", and optionally "writeBack=true" to replace the
// document image with the result.
func (h *Handler) Redact(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "request too large or not multipart")
		return
	}
	defer r.MultipartForm.RemoveAll()

	var regions []region.Region
	if raw := r.FormValue("regions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &regions); err != nil {
			writeError(w, http.StatusBadRequest, "invalid regions: "+err.Error())
			return
		}
	}

	imageID := r.FormValue("imageId")
	writeBack, _ := strconv.ParseBool(r.FormValue("writeBack"))
	if writeBack && imageID == "" {
		writeError(w, http.StatusBadRequest, "writeBack requires imageId")
		return
	}

	src, name, err := h.source(r, imageID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	session := engine.NewSession(engine.WithCapabilities(engine.Capabilities{
		Export:       true,
		ReplaceImage: writeBack,
		MaxPixels:    h.maxPixels,
	}))
	defer session.Cancel()

	if err := session.Load(bytes.NewReader(src)); err != nil {
		handleServiceError(w, err)
		return
	}
	if len(regions) > 0 {
		session.ReplaceRegions(regions)
	}
	applied := len(session.Regions())

	out, err := session.Export(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if writeBack {
		if err := h.images.ReplaceImage(r.Context(), imageID, out); err != nil {
			handleServiceError(w, fmt.Errorf("%w: %w", engine.ErrIntegration, err))
			return
		}
	}

	target := name
	if imageID != "" {
		target = imageID
	}
	if rec, err := h.audit.RecordRedact(r.Context(), auth.SubjectFromContext(r.Context()), target, applied); err != nil {
		slog.Warn("audit redact", "error", err)
	} else {
		w.Header().Set("X-Audit-Id", rec.ID)
	}

	slog.Info("redaction exported", "target", target, "regions", applied, "size", len(out), "writeBack", writeBack)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-redacted.png"`, sanitize(name)))
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// source returns the encoded source image: the uploaded file when present,
// otherwise the document image named by imageID.
func (h *Handler) source(r *http.Request, imageID string) ([]byte, string, error) {
	file, header, err := r.FormFile("image")
	if err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", fmt.Errorf("%w: read upload: %w", engine.ErrDecode, err)
		}
		return data, trimExt(header.Filename), nil
	}
	if imageID == "" {
		return nil, "", errMissingImage
	}

	ref, err := findImage(r.Context(), h.images, imageID)
	if err != nil {
		return nil, "", err
	}
	return ref.EncodedPixels, ref.Name, nil
}

var errMissingImage = errors.New("missing image field or imageId")

// findImage looks an image up by id, using a direct lookup when the
// integration offers one.
func findImage(ctx context.Context, images document.Integration, id string) (document.ImageRef, error) {
	if direct, ok := images.(interface {
		Image(ctx context.Context, id string) (document.ImageRef, error)
	}); ok {
		ref, err := direct.Image(ctx, id)
		if err != nil && !errors.Is(err, document.ErrImageNotFound) {
			return ref, fmt.Errorf("%w: %w", engine.ErrIntegration, err)
		}
		return ref, err
	}
	refs, err := images.ListImages(ctx)
	if err != nil {
		return document.ImageRef{}, fmt.Errorf("%w: %w", engine.ErrIntegration, err)
	}
	for _, ref := range refs {
		if ref.ID == id {
			return ref, nil
		}
	}
	return document.ImageRef{}, document.ErrImageNotFound
}

// CleanArchive handles POST /api/archive/clean. The cleaned archive is the
// response body; removed part names are listed in X-Removed-Files.
func (h *Handler) CleanArchive(w http.ResponseWriter, r *http.Request) {
	data, name, ok := h.readArchive(w, r)
	if !ok {
		return
	}
	strip, _ := strconv.ParseBool(r.FormValue("stripMetadata"))

	res, err := archive.Clean(data, archive.Options{StripMetadata: strip})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if rec, err := h.audit.RecordClean(r.Context(), auth.SubjectFromContext(r.Context()), name, res.Removed); err != nil {
		slog.Warn("audit clean", "error", err)
	} else {
		w.Header().Set("X-Audit-Id", rec.ID)
	}

	slog.Info("archive cleaned", "name", name, "removed", len(res.Removed), "stripMetadata", strip)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, sanitizeFilename(name)))
	w.Header().Set("X-Removed-Files", strings.Join(res.Removed, ","))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Archive)))
	w.WriteHeader(http.StatusOK)
	w.Write(res.Archive)
}

// ScanArchive handles POST /api/archive/scan and lists orphaned parts
// without modifying anything.
func (h *Handler) ScanArchive(w http.ResponseWriter, r *http.Request) {
	data, name, ok := h.readArchive(w, r)
	if !ok {
		return
	}
	orphans, err := archive.ScanOrphans(data)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if orphans == nil {
		orphans = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "orphans": orphans})
}

func (h *Handler) readArchive(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "request too large or not multipart")
		return nil, "", false
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return nil, "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return nil, "", false
	}
	return data, header.Filename, true
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errMissingImage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrDecode):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, archive.ErrNotArchive):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, document.ErrImageNotFound):
		writeError(w, http.StatusNotFound, "image not found")
	case errors.Is(err, engine.ErrIntegration):
		slog.Error("integration failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, engine.ErrExport):
		slog.Error("export failed", "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
	default:
		slog.Error("export error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func trimExt(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}

// sanitize keeps a name safe to use as a download file name.
func sanitize(name string) string {
	if name == "" {
		name = "image"
	}
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, name)
}

func sanitizeFilename(name string) string {
	ext := ""
	if i := strings.LastIndex(name, "."); i > 0 {
		ext = "." + sanitize(name[i+1:])
	}
	return sanitize(trimExt(name)) + ext
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
