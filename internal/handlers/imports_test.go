package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"gear-guardian-api/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestImportsHandler() *ImportsHandler {
	return NewImportsHandler(nil, zap.NewNop(), "", "")
}

func adminContext(req *http.Request) *http.Request {
	ctx := context.WithValue(req.Context(), auth.UserIDKey, int64(1))
	ctx = context.WithValue(ctx, auth.RolesKey, []string{"admin"})
	return req.WithContext(ctx)
}

func TestImportsHandler_UploadExcel(t *testing.T) {
	handler := newTestImportsHandler()

	t.Run("Rejects non-multipart content type", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/imports/excel", nil)
		req.Header.Set("Content-Type", "application/json")
		req = adminContext(req)

		w := httptest.NewRecorder()
		handler.UploadExcel(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "content-type must be multipart/form-data")
	})

	t.Run("Rejects invalid owner_id", func(t *testing.T) {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		writer.WriteField("owner_id", "invalid")
		writer.Close()

		req := httptest.NewRequest("POST", "/imports/excel", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req = adminContext(req)

		w := httptest.NewRecorder()
		handler.UploadExcel(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "owner_id must be a positive integer")
	})

	t.Run("Rejects missing file", func(t *testing.T) {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		writer.Close()

		req := httptest.NewRequest("POST", "/imports/excel", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req = adminContext(req)

		w := httptest.NewRecorder()
		handler.UploadExcel(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "file is required")
	})

	t.Run("Rejects non-xlsx file", func(t *testing.T) {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)

		fileWriter, _ := writer.CreateFormFile("file", "registry.xls")
		fileWriter.Write([]byte("fake excel content"))
		writer.Close()

		req := httptest.NewRequest("POST", "/imports/excel", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req = adminContext(req)

		w := httptest.NewRecorder()
		handler.UploadExcel(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "only .xlsx files are accepted")
	})

	t.Run("Rejects corrupt xlsx content", func(t *testing.T) {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		writer.WriteField("dry_run", "true")

		fileWriter, _ := writer.CreateFormFile("file", "registry.xlsx")
		fileWriter.Write([]byte("not really a workbook"))
		writer.Close()

		req := httptest.NewRequest("POST", "/imports/excel", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req = adminContext(req)

		w := httptest.NewRecorder()
		handler.UploadExcel(w, req)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "IMPORT_FAILED")
	})
}

func TestIsXLSX(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		expected bool
	}{
		{"Valid xlsx", "registry.xlsx", true},
		{"Valid xlsx uppercase", "REGISTRY.XLSX", true},
		{"Invalid xls", "registry.xls", false},
		{"Invalid xlsm", "registry.xlsm", false},
		{"Invalid txt", "registry.txt", false},
		{"No extension", "registry", false},
		{"Empty filename", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := &multipart.FileHeader{
				Filename: tt.filename,
			}
			assert.Equal(t, tt.expected, isXLSX(header))
		})
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]interface{}{
		"message": "test",
		"count":   42,
	}

	writeJSON(w, http.StatusOK, data)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "test", response["message"])
	assert.Equal(t, float64(42), response["count"])
}
