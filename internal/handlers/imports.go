package handlers

import (
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"gear-guardian-api/internal/auth"
	"gear-guardian-api/pkg/importer"
)

// ImportsHandler handles Excel registry import operations
type ImportsHandler struct {
	DB            *pgxpool.Pool
	Log           *zap.Logger
	MaxBytes      int64
	DefaultMap    string
	LifespansPath string
}

// NewImportsHandler creates a new imports handler
func NewImportsHandler(db *pgxpool.Pool, log *zap.Logger, mappingPath, lifespansPath string) *ImportsHandler {
	if mappingPath == "" {
		mappingPath = "configs/mapping/epi_registry.yaml"
	}
	if lifespansPath == "" {
		lifespansPath = "configs/lifespans.yaml"
	}
	return &ImportsHandler{
		DB:            db,
		Log:           log,
		MaxBytes:      20 << 20, // 20 MB
		DefaultMap:    mappingPath,
		LifespansPath: lifespansPath,
	}
}

// UploadExcel handles Excel file uploads for equipment registry import
func (h *ImportsHandler) UploadExcel(w http.ResponseWriter, r *http.Request) {
	// Limit body size
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)

	// Require multipart
	if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		http.Error(w, "content-type must be multipart/form-data", http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(h.MaxBytes); err != nil {
		http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}

	// Imported rows can be assigned to a specific user; default is the
	// admin performing the import.
	ownerID := auth.UserIDFromContext(r.Context())
	if v := r.FormValue("owner_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			http.Error(w, "owner_id must be a positive integer", http.StatusBadRequest)
			return
		}
		ownerID = n
	}

	dryRun := r.FormValue("dry_run") == "true"
	mapping := r.FormValue("mapping")
	if mapping == "" {
		mapping = h.DefaultMap
	}
	maxErrors := 50
	if v := r.FormValue("max_errors"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxErrors = n
		}
	}

	// File
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !isXLSX(header) {
		http.Error(w, "only .xlsx files are accepted", http.StatusBadRequest)
		return
	}

	sum, impErr := importer.ImportExcel(r.Context(), h.DB, file, importer.ImportOptions{
		OwnerID:       ownerID,
		MappingPath:   mapping,
		LifespansPath: h.LifespansPath,
		DryRun:        dryRun,
		MaxErrors:     maxErrors,
	})
	if impErr != nil {
		h.Log.Warn("registry import failed",
			zap.String("file", header.Filename),
			zap.Error(impErr))
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "IMPORT_FAILED",
			"details": impErr.Error(),
			"data":    sum, // might include partial
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": sum,
		"meta": map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   "1.0.0",
		},
	})
}

// isXLSX checks if the uploaded file is an Excel .xlsx file
func isXLSX(h *multipart.FileHeader) bool {
	name := strings.ToLower(h.Filename)
	return strings.HasSuffix(name, ".xlsx")
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
