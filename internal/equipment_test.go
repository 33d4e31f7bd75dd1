package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gear-guardian-api/internal/auth"
	"gear-guardian-api/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func timePtr(t time.Time) *time.Time { return &t }

func validForm() models.EquipmentForm {
	return models.EquipmentForm{
		Name:             "Petzl Boreo",
		Type:             "helmet",
		PurchaseDate:     timePtr(time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC)),
		ServiceStartDate: timePtr(time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)),
		LifespanYears:    10,
		Description:      "Blue climbing helmet, sport and via ferrata use.",
		Photo:            "data:image/jpeg;base64,AAAA",
	}
}

func asUser(req *http.Request, userID int64) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, userID))
}

func TestCreateEquipmentRejectsInvalidJSON(t *testing.T) {
	server := &Server{}

	req := asUser(httptest.NewRequest("POST", "/epi", strings.NewReader("{not json")), 1)
	w := httptest.NewRecorder()

	server.createEquipment(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateEquipmentValidation(t *testing.T) {
	server := &Server{}

	tests := []struct {
		name   string
		mutate func(*models.EquipmentForm)
		field  string
	}{
		{"short name", func(f *models.EquipmentForm) { f.Name = "ab" }, "name"},
		{"unknown type", func(f *models.EquipmentForm) { f.Type = "parachute" }, "type"},
		{"missing purchase date", func(f *models.EquipmentForm) { f.PurchaseDate = nil }, "purchase_date"},
		{"zero lifespan", func(f *models.EquipmentForm) { f.LifespanYears = 0 }, "lifespan_years"},
		{"short description", func(f *models.EquipmentForm) { f.Description = "too short" }, "description"},
		{"missing photo", func(f *models.EquipmentForm) { f.Photo = "" }, "photo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := validForm()
			tt.mutate(&form)

			body, err := json.Marshal(form)
			require.NoError(t, err)

			req := asUser(httptest.NewRequest("POST", "/epi", bytes.NewReader(body)), 1)
			w := httptest.NewRecorder()

			server.createEquipment(w, req)

			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

			var resp struct {
				Error  string            `json:"error"`
				Fields map[string]string `json:"fields"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "VALIDATION_FAILED", resp.Error)
			assert.Contains(t, resp.Fields, tt.field)
		})
	}
}

func TestCreateEquipmentRejectsBadPhotoData(t *testing.T) {
	server := &Server{}

	form := validForm()
	form.Photo = "data:image/jpeg;base64,!!!not-base64!!!"

	body, err := json.Marshal(form)
	require.NoError(t, err)

	req := asUser(httptest.NewRequest("POST", "/epi", bytes.NewReader(body)), 1)
	w := httptest.NewRecorder()

	server.createEquipment(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "photo")
}

func TestUpdateEquipmentValidation(t *testing.T) {
	server := &Server{}

	// Photo omitted is fine on edit, but the rest of the form still applies.
	form := validForm()
	form.Photo = ""
	form.Name = "ab"

	body, err := json.Marshal(form)
	require.NoError(t, err)

	req := asUser(httptest.NewRequest("PUT", "/epi/1", bytes.NewReader(body)), 1)
	w := httptest.NewRecorder()

	server.updateEquipment(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "name")
}

func TestListAlertsRejectsBadThreshold(t *testing.T) {
	server := &Server{}

	for _, v := range []string{"abc", "-5", "150", "NaN", "Inf", "-Inf"} {
		req := asUser(httptest.NewRequest("GET", "/epi/alerts?threshold="+v, nil), 1)
		w := httptest.NewRecorder()

		server.listAlerts(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code, "threshold %q", v)
	}
}

func TestAdminListEquipmentReportsRowIterationError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{
		"id", "user_id", "name", "type", "serial_number", "purchase_date",
		"service_start_date", "expected_end_of_life", "description", "manufacturer_data",
		"archived", "has_photo",
		"health_needs_replacement", "health_reason", "health_recommendation",
		"health_confidence", "health_analyzed_at", "created_at", "updated_at",
		"total_count",
	}
	rows := sqlmock.NewRows(cols).
		AddRow(int64(1), int64(2), "Petzl Spirit", "carabiner", nil,
			now.AddDate(-2, 0, 0), now.AddDate(-2, 0, 0), now.AddDate(8, 0, 0),
			"Workhorse quickdraw carabiner.", "",
			false, false,
			nil, nil, nil, nil, nil, now, now, 2).
		AddRow(int64(2), int64(2), "Beal Joker", "rope", nil,
			now.AddDate(-1, 0, 0), now.AddDate(-1, 0, 0), now.AddDate(9, 0, 0),
			"70m triple-rated single rope.", "",
			false, false,
			nil, nil, nil, nil, nil, now, now, 2).
		RowError(1, errors.New("connection reset"))
	mock.ExpectQuery("SELECT (.+) FROM equipment").WillReturnRows(rows)

	server := &Server{DB: db, Log: zap.NewNop()}
	req := asUser(httptest.NewRequest("GET", "/epi", nil), 1)
	w := httptest.NewRecorder()

	server.adminListEquipment(w, req)

	// A failure mid-iteration must surface as an error, not a short 200 page.
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdminListEquipmentRejectsUnknownType(t *testing.T) {
	server := &Server{}

	req := asUser(httptest.NewRequest("GET", "/epi?type=parachute", nil), 1)
	w := httptest.NewRecorder()

	server.adminListEquipment(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendValidationErrorsEnvelope(t *testing.T) {
	w := httptest.NewRecorder()

	sendValidationErrors(w, models.FieldErrors{"name": "too short"})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "VALIDATION_FAILED", resp["error"])
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(nil))

	empty := "   "
	assert.Nil(t, nullIfEmpty(&empty))

	serial := "PB-2021-0042"
	assert.Equal(t, "PB-2021-0042", nullIfEmpty(&serial))
}
