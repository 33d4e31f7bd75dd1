package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gear-guardian-api/internal/auth"
	"gear-guardian-api/internal/imaging"
	"gear-guardian-api/internal/models"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const equipmentColumns = `id, user_id, name, type, serial_number, purchase_date,
	service_start_date, expected_end_of_life, description, manufacturer_data,
	archived, photo IS NOT NULL,
	health_needs_replacement, health_reason, health_recommendation,
	health_confidence, health_analyzed_at, created_at, updated_at`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEquipment reads one equipment row in equipmentColumns order and fills
// the derived fields using the server's clock.
func scanEquipment(sc rowScanner, now time.Time) (models.Equipment, error) {
	var e models.Equipment
	var serial, healthReason, healthRecommendation sql.NullString
	var healthNeedsReplacement sql.NullBool
	var healthConfidence sql.NullFloat64
	var healthAnalyzedAt sql.NullTime

	err := sc.Scan(
		&e.ID, &e.UserID, &e.Name, &e.Type, &serial, &e.PurchaseDate,
		&e.ServiceStartDate, &e.ExpectedEndOfLife, &e.Description, &e.ManufacturerData,
		&e.Archived, &e.HasPhoto,
		&healthNeedsReplacement, &healthReason, &healthRecommendation,
		&healthConfidence, &healthAnalyzedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return e, err
	}

	if serial.Valid {
		e.SerialNumber = &serial.String
	}
	if healthAnalyzedAt.Valid && healthConfidence.Valid {
		e.HealthAnalysis = &models.HealthAnalysis{
			NeedsReplacement: healthNeedsReplacement.Bool,
			Reason:           healthReason.String,
			Recommendation:   healthRecommendation.String,
			Confidence:       healthConfidence.Float64,
			AnalyzedAt:       healthAnalyzedAt.Time,
		}
	}

	e.Derive(now)
	return e, nil
}

// listMyEquipment returns the caller's full equipment list with derived
// status. The client refetches this wholesale after every mutation, so no
// pagination here; the admin table has its own paginated endpoint.
func (s *Server) listMyEquipment(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	q := dbFrom(r.Context(), s.DB)
	rows, err := q.QueryContext(r.Context(), `
		SELECT `+equipmentColumns+`
		FROM equipment WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	now := s.now()
	list := []models.Equipment{}
	for rows.Next() {
		e, err := scanEquipment(rows, now)
		if err != nil {
			// A malformed row must not take down the whole list render.
			s.Log.Warn("skipping malformed equipment row", zap.Error(err))
			continue
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// listAlerts returns the caller's gear that has crossed the alert threshold:
// not archived, not expired, percentage used >= threshold. The threshold
// defaults to the profile preference and can be overridden per request.
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var threshold float64
	if v := strings.TrimSpace(r.URL.Query().Get("threshold")); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) || parsed < 0 || parsed > 100 {
			http.Error(w, "threshold must be a number between 0 and 100", http.StatusBadRequest)
			return
		}
		threshold = parsed
	} else {
		threshold = float64(s.alertThresholdFor(r.Context(), userID))
	}

	q := dbFrom(r.Context(), s.DB)
	rows, err := q.QueryContext(r.Context(), `
		SELECT `+equipmentColumns+`
		FROM equipment WHERE user_id = $1 ORDER BY expected_end_of_life ASC`, userID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	now := s.now()
	all := []models.Equipment{}
	for rows.Next() {
		e, err := scanEquipment(rows, now)
		if err != nil {
			s.Log.Warn("skipping malformed equipment row", zap.Error(err))
			continue
		}
		all = append(all, e)
	}
	if err := rows.Err(); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"threshold": threshold,
		"data":      models.FilterExpiring(all, threshold),
	})
}

func (s *Server) getEquipment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := auth.UserIDFromContext(r.Context())

	q := dbFrom(r.Context(), s.DB)
	row := q.QueryRowContext(r.Context(), `
		SELECT `+equipmentColumns+`
		FROM equipment WHERE id = $1 AND user_id = $2`, id, userID)

	e, err := scanEquipment(row, s.now())
	if err == sql.ErrNoRows {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(e)
}

func (s *Server) createEquipment(w http.ResponseWriter, r *http.Request) {
	var form models.EquipmentForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		http.Error(w, "invalid JSON", 400)
		return
	}
	if errs := form.Validate(models.ModeCreate); errs != nil {
		sendValidationErrors(w, errs)
		return
	}

	photo, err := imaging.FromDataURI(form.Photo)
	if err != nil {
		sendValidationErrors(w, models.FieldErrors{"photo": err.Error()})
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	endOfLife := form.EndOfLife()

	q := dbFrom(r.Context(), s.DB)
	row := q.QueryRowContext(r.Context(), `
		INSERT INTO equipment (user_id, name, type, serial_number, purchase_date,
			service_start_date, expected_end_of_life, description, manufacturer_data,
			archived, photo, photo_mime)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING `+equipmentColumns,
		userID, form.Name, form.Type, nullIfEmpty(form.SerialNumber),
		form.PurchaseDate, form.ServiceStartDate, endOfLife,
		form.Description, form.ManufacturerData, form.Archived,
		photo.Data, photo.MIME)

	e, err := scanEquipment(row, s.now())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(e)
}

// updateEquipment is the same save operation keyed by id: the client submits
// the full form again. The photo is the one exception; when omitted the
// stored photo is preserved.
func (s *Server) updateEquipment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := auth.UserIDFromContext(r.Context())

	var form models.EquipmentForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		http.Error(w, "invalid JSON", 400)
		return
	}
	if errs := form.Validate(models.ModeEdit); errs != nil {
		sendValidationErrors(w, errs)
		return
	}

	var photo *imaging.Photo
	if strings.TrimSpace(form.Photo) != "" {
		p, err := imaging.FromDataURI(form.Photo)
		if err != nil {
			sendValidationErrors(w, models.FieldErrors{"photo": err.Error()})
			return
		}
		photo = p
	}

	endOfLife := form.EndOfLife()

	sqlStr := `
		UPDATE equipment SET name = $1, type = $2, serial_number = $3,
			purchase_date = $4, service_start_date = $5, expected_end_of_life = $6,
			description = $7, manufacturer_data = $8, archived = $9,
			updated_at = now()`
	args := []interface{}{
		form.Name, form.Type, nullIfEmpty(form.SerialNumber),
		form.PurchaseDate, form.ServiceStartDate, endOfLife,
		form.Description, form.ManufacturerData, form.Archived,
	}
	if photo != nil {
		sqlStr += fmt.Sprintf(", photo = $%d, photo_mime = $%d", len(args)+1, len(args)+2)
		args = append(args, photo.Data, photo.MIME)
	}
	sqlStr += fmt.Sprintf(" WHERE id = $%d AND user_id = $%d RETURNING ", len(args)+1, len(args)+2) + equipmentColumns
	args = append(args, id, userID)

	q := dbFrom(r.Context(), s.DB)
	e, err := scanEquipment(q.QueryRowContext(r.Context(), sqlStr, args...), s.now())
	if err == sql.ErrNoRows {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(e)
}

func (s *Server) deleteEquipment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := auth.UserIDFromContext(r.Context())

	q := dbFrom(r.Context(), s.DB)
	res, err := q.ExecContext(r.Context(), `DELETE FROM equipment WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// adminListEquipment backs the admin dashboard table: every user's gear with
// search, sort, and pagination.
func (s *Server) adminListEquipment(w http.ResponseWriter, r *http.Request) {
	params := parseListParams(r)

	clauses := []string{}
	args := []interface{}{}
	arg := 1

	// optional text search on name/serial
	if params.q != "" {
		clauses = append(clauses, fmt.Sprintf("(name ILIKE $%d OR serial_number ILIKE $%d)", arg, arg))
		args = append(args, "%"+params.q+"%")
		arg++
	}
	if typ := strings.TrimSpace(r.URL.Query().Get("type")); typ != "" {
		if !models.IsValidEquipmentType(models.EquipmentType(typ)) {
			http.Error(w, "invalid equipment type", http.StatusBadRequest)
			return
		}
		clauses = append(clauses, fmt.Sprintf("type = $%d", arg))
		args = append(args, typ)
		arg++
	}

	whereClause := ""
	if len(clauses) > 0 {
		whereClause = " WHERE " + strings.Join(clauses, " AND ")
	}

	// Build the main query with COUNT(*) OVER() to get total count
	sqlStr := fmt.Sprintf(`
		SELECT `+equipmentColumns+`,
		       COUNT(*) OVER() as total_count
		FROM equipment%s`, whereClause)

	allowedSort := map[string]string{
		"id":                   "id",
		"name":                 "name",
		"type":                 "type",
		"expected_end_of_life": "expected_end_of_life",
		"created_at":           "created_at",
		"updated_at":           "updated_at",
	}
	sqlStr += buildOrderBy(params.sort, allowedSort)
	sqlStr += fmt.Sprintf(" LIMIT %d OFFSET %d", params.limit, params.offset)

	q := dbFrom(r.Context(), s.DB)
	rows, err := q.QueryContext(r.Context(), sqlStr, args...)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	now := s.now()
	list := []interface{}{}
	var totalCount int
	for rows.Next() {
		e, err := scanEquipmentWithTotal(rows, now, &totalCount)
		if err != nil {
			s.Log.Warn("skipping malformed equipment row", zap.Error(err))
			continue
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	sendListResponse(w, list, totalCount, params)
}

func scanEquipmentWithTotal(rows *sql.Rows, now time.Time, total *int) (models.Equipment, error) {
	var e models.Equipment
	var serial, healthReason, healthRecommendation sql.NullString
	var healthNeedsReplacement sql.NullBool
	var healthConfidence sql.NullFloat64
	var healthAnalyzedAt sql.NullTime

	err := rows.Scan(
		&e.ID, &e.UserID, &e.Name, &e.Type, &serial, &e.PurchaseDate,
		&e.ServiceStartDate, &e.ExpectedEndOfLife, &e.Description, &e.ManufacturerData,
		&e.Archived, &e.HasPhoto,
		&healthNeedsReplacement, &healthReason, &healthRecommendation,
		&healthConfidence, &healthAnalyzedAt, &e.CreatedAt, &e.UpdatedAt,
		total,
	)
	if err != nil {
		return e, err
	}
	if serial.Valid {
		e.SerialNumber = &serial.String
	}
	if healthAnalyzedAt.Valid && healthConfidence.Valid {
		e.HealthAnalysis = &models.HealthAnalysis{
			NeedsReplacement: healthNeedsReplacement.Bool,
			Reason:           healthReason.String,
			Recommendation:   healthRecommendation.String,
			Confidence:       healthConfidence.Float64,
			AnalyzedAt:       healthAnalyzedAt.Time,
		}
	}
	e.Derive(now)
	return e, nil
}

// alertThresholdFor reads the user's banner preference, falling back to the
// default when the profile cannot be read.
func (s *Server) alertThresholdFor(ctx context.Context, userID int64) int {
	var threshold int
	err := s.DB.QueryRowContext(ctx, `SELECT alert_threshold FROM users WHERE id = $1`, userID).Scan(&threshold)
	if err != nil || !models.ValidAlertThreshold(threshold) {
		return models.DefaultAlertThreshold
	}
	return threshold
}

// sendValidationErrors writes the 422 field-error envelope. Validation
// failures never reach the database.
func sendValidationErrors(w http.ResponseWriter, errs models.FieldErrors) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  "VALIDATION_FAILED",
		"fields": errs,
	})
}

// nullIfEmpty converts empty string pointer to nil for nullable columns
func nullIfEmpty(s *string) interface{} {
	if s == nil {
		return nil
	}
	if strings.TrimSpace(*s) == "" {
		return nil
	}
	return *s
}
