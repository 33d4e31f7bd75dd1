package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"gear-guardian-api/internal/auth"
	"gear-guardian-api/internal/imaging"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// PhotosHandler handles multipart photo uploads and serves stored photos.
type PhotosHandler struct {
	DB       *sql.DB
	Log      *zap.Logger
	MaxBytes int64
}

// NewPhotosHandler creates a new photos handler
func NewPhotosHandler(db *sql.DB, log *zap.Logger) *PhotosHandler {
	return &PhotosHandler{
		DB:       db,
		Log:      log,
		MaxBytes: 4 << 20, // 4 MB, generous over the processed-image limit
	}
}

// Upload replaces the stored photo for a piece of equipment. The image is
// re-encoded and downscaled before it touches the database.
func (h *PhotosHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)

	if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		http.Error(w, "content-type must be multipart/form-data", http.StatusBadRequest)
		return
	}
	if err := r.ParseMultipartForm(h.MaxBytes); err != nil {
		http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("photo")
	if err != nil {
		http.Error(w, "photo is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	photo, err := imaging.Process(file)
	if err != nil {
		if errors.Is(err, imaging.ErrTooLarge) {
			http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "unsupported image: "+err.Error(), http.StatusUnsupportedMediaType)
		return
	}

	id := chi.URLParam(r, "id")
	userID := auth.UserIDFromContext(r.Context())

	res, err := h.DB.ExecContext(r.Context(), `
		UPDATE equipment SET photo = $1, photo_mime = $2, updated_at = now()
		WHERE id = $3 AND user_id = $4`,
		photo.Data, photo.MIME, id, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	h.Log.Info("photo stored",
		zap.String("equipment_id", id),
		zap.Int("bytes", len(photo.Data)))

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// Serve streams the stored photo bytes for a piece of equipment.
func (h *PhotosHandler) Serve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := auth.UserIDFromContext(r.Context())

	var data []byte
	var mime sql.NullString
	err := h.DB.QueryRowContext(r.Context(), `
		SELECT photo, photo_mime FROM equipment
		WHERE id = $1 AND user_id = $2`, id, userID).Scan(&data, &mime)
	if err == sql.ErrNoRows {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(data) == 0 {
		http.Error(w, "no photo stored", http.StatusNotFound)
		return
	}

	contentType := "image/jpeg"
	if mime.Valid && mime.String != "" {
		contentType = mime.String
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=60")
	if _, err := w.Write(data); err != nil {
		h.Log.Warn("failed to write photo response", zap.String("equipment_id", id), zap.Error(err))
	}
}
