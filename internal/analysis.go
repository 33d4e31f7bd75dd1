package internal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"gear-guardian-api/internal/ai"
	"gear-guardian-api/internal/auth"
	"gear-guardian-api/internal/imaging"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// analyzeEquipment runs the vision model over the stored photo and persists
// the verdict. The verdict is advisory: it never changes the lifecycle
// status, and a failed analysis leaves the record untouched.
func (s *Server) analyzeEquipment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := auth.UserIDFromContext(r.Context())

	var description, manufacturerData string
	var photoData []byte
	var photoMIME sql.NullString

	q := dbFrom(r.Context(), s.DB)
	err := q.QueryRowContext(r.Context(), `
		SELECT description, manufacturer_data, photo, photo_mime
		FROM equipment WHERE id = $1 AND user_id = $2`, id, userID).
		Scan(&description, &manufacturerData, &photoData, &photoMIME)
	if err == sql.ErrNoRows {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if len(photoData) == 0 || !photoMIME.Valid {
		sendErrorEnvelope(w, http.StatusBadRequest, "NO_PHOTO", "a photo is required before analysis")
		return
	}

	photo := imaging.Photo{Data: photoData, MIME: photoMIME.String}
	verdict, err := s.AI.Analyze(r.Context(), ai.Input{
		PhotoDataURI:     photo.DataURI(),
		Description:      description,
		ManufacturerData: manufacturerData,
	})
	if err != nil {
		var schemaErr *ai.SchemaError
		switch {
		case errors.Is(err, ai.ErrNotConfigured):
			s.Metrics.RecordAnalysis("not_configured")
			sendErrorEnvelope(w, http.StatusServiceUnavailable, "ANALYSIS_NOT_CONFIGURED",
				"gear health analysis is not configured on this server")
		case errors.As(err, &schemaErr):
			s.Metrics.RecordAnalysis("schema_error")
			s.Log.Warn("analysis returned malformed verdict", zap.String("equipment_id", id), zap.Error(err))
			sendErrorEnvelope(w, http.StatusBadGateway, "ANALYSIS_MALFORMED",
				"the analysis service returned an unusable result; try again")
		default:
			s.Metrics.RecordAnalysis("transport_error")
			s.Log.Warn("analysis request failed", zap.String("equipment_id", id), zap.Error(err))
			sendErrorEnvelope(w, http.StatusBadGateway, "ANALYSIS_UNAVAILABLE",
				"the analysis service could not be reached; try again")
		}
		return
	}
	s.Metrics.RecordAnalysis("ok")

	row := q.QueryRowContext(r.Context(), `
		UPDATE equipment SET health_needs_replacement = $1, health_reason = $2,
			health_recommendation = $3, health_confidence = $4,
			health_analyzed_at = now(), updated_at = now()
		WHERE id = $5 AND user_id = $6
		RETURNING `+equipmentColumns,
		verdict.NeedsReplacement, verdict.Reason, verdict.Recommendation,
		verdict.Confidence, id, userID)

	e, err := scanEquipment(row, s.now())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(e)
}

func sendErrorEnvelope(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}
