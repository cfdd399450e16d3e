// Package asset serves the images embedded in the document over HTTP.
package asset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/pixelveil/pixelveil/backend-go/internal/document"
)

// Library is the image store behind the handler.
type Library interface {
	document.Integration
	Image(ctx context.Context, id string) (document.ImageRef, error)
	AddImage(ctx context.Context, name string, r io.Reader, at document.Placement) (document.ImageRef, error)
	Delete(ctx context.Context, id string) error
}

// Handler serves image listing, upload, download and replacement.
type Handler struct {
	images    Library
	maxUpload int64
}

func NewHandler(images Library, maxUpload int64) *Handler {
	return &Handler{images: images, maxUpload: maxUpload}
}

// List handles GET /api/documents/images. Pixel data is not included.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	refs, err := h.images.ListImages(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refs)
}

// Upload handles POST /api/documents/images (multipart form with a "file"
// field and optional x, y, width and height placement fields).
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file too large"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file field"})
		return
	}
	defer file.Close()

	at := document.Placement{
		X:      formFloat(r, "x"),
		Y:      formFloat(r, "y"),
		Width:  formFloat(r, "width"),
		Height: formFloat(r, "height"),
	}
	ref, err := h.images.AddImage(r.Context(), header.Filename, file, at)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

// Raw handles GET /api/documents/images/{imageId} and returns the PNG.
func (h *Handler) Raw(w http.ResponseWriter, r *http.Request) {
	ref, err := h.images.Image(r.Context(), mux.Vars(r)["imageId"])
	if err != nil {
		handleServiceError(w, err)
		return
	}
	// Images are replaced in place, so clients must revalidate.
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(ref.EncodedPixels)))
	w.WriteHeader(http.StatusOK)
	w.Write(ref.EncodedPixels)
}

// Replace handles PUT /api/documents/images/{imageId} with the encoded
// image as the request body.
func (h *Handler) Replace(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file too large"})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty body"})
		return
	}
	if err := h.images.ReplaceImage(r.Context(), mux.Vars(r)["imageId"], body); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/documents/images/{imageId}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.images.Delete(r.Context(), mux.Vars(r)["imageId"]); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func formFloat(r *http.Request, key string) float64 {
	v, err := strconv.ParseFloat(r.FormValue(key), 64)
	if err != nil {
		return 0
	}
	return v
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, document.ErrImageNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "image not found"})
	case errors.Is(err, document.ErrInvalidImage):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		slog.Error("image store error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
