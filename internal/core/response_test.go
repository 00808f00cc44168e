package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"urns/internal/types"
)

func TestJSON_WritesEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	JSON(rec, req, http.StatusCreated, APIResponse{Data: map[string]string{"reminder_id": "rem_1"}})

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var resp struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response body: %v", err)
	}
	if resp.Data["reminder_id"] != "rem_1" {
		t.Errorf("unexpected data: %v", resp.Data)
	}
}

func TestError_AppErrorStatusMapping(t *testing.T) {
	tests := []struct {
		code       types.ErrorCode
		wantStatus int
	}{
		{types.ErrCodeValidationInvalidWhen, http.StatusBadRequest},
		{types.ErrCodeValidationInvalidCron, http.StatusBadRequest},
		{types.ErrCodeAuthAppKeyMissing, http.StatusUnauthorized},
		{types.ErrCodeNotFoundReminder, http.StatusNotFound},
		{types.ErrCodeInternalUnexpected, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req = req.WithContext(types.WithRequestID(req.Context(), "req_777"))
			rec := httptest.NewRecorder()

			Error(rec, req, types.NewAppError(tc.code, "boom", nil))

			if rec.Code != tc.wantStatus {
				t.Errorf("status: got %d, want %d", rec.Code, tc.wantStatus)
			}

			var resp APIErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response body: %v", err)
			}
			if resp.Error.Code != string(tc.code) {
				t.Errorf("code: got %q, want %q", resp.Error.Code, tc.code)
			}
			if resp.Error.RequestID != "req_777" {
				t.Errorf("request_id: got %q, want %q", resp.Error.RequestID, "req_777")
			}
		})
	}
}

func TestError_WrappedAppError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	wrapped := types.NewAppError(types.ErrCodeNotFoundReminder, "reminder not found", nil)
	Error(rec, req, errors.Join(wrapped))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for wrapped AppError, got %d", rec.Code)
	}
}

func TestError_PlainErrorNeverLeaksDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	Error(rec, req, errors.New("dial tcp 10.0.0.5: connection refused"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Error("internal error details must not reach the client")
	}

	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response body: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code: got %q, want %q", resp.Error.Code, types.ErrCodeInternalUnexpected)
	}
	if resp.Error.Message != "an unexpected error occurred" {
		t.Errorf("message: got %q", resp.Error.Message)
	}
}

func TestDecodeJSON_ValidBody(t *testing.T) {
	var dst struct {
		AppID string `json:"app_id"`
	}

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"app_id":"app_1"}`))
	rec := httptest.NewRecorder()

	if err := DecodeJSON(rec, req, &dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dst.AppID != "app_1" {
		t.Errorf("app_id: got %q, want %q", dst.AppID, "app_1")
	}
}

func TestDecodeJSON_Failures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"malformed JSON", `{"app_id":`},
		{"unknown field", `{"bogus":true}`},
		{"wrong field type", `{"app_id":123}`},
		{"trailing value", `{"app_id":"a"}{"app_id":"b"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var dst struct {
				AppID string `json:"app_id"`
			}

			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()

			err := DecodeJSON(rec, req, &dst)
			if err == nil {
				t.Fatal("expected a decode error")
			}

			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected *types.AppError, got %T", err)
			}
			if appErr.Code != types.ErrCodeValidationInvalidJSON {
				t.Errorf("code: got %q, want %q", appErr.Code, types.ErrCodeValidationInvalidJSON)
			}
			if appErr.HTTPStatus() != http.StatusBadRequest {
				t.Errorf("status: got %d, want %d", appErr.HTTPStatus(), http.StatusBadRequest)
			}
		})
	}
}

func TestDecodeJSON_UnmarshalTypeErrorCarriesField(t *testing.T) {
	var dst struct {
		AppID string `json:"app_id"`
	}

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"app_id":123}`))
	rec := httptest.NewRecorder()

	err := DecodeJSON(rec, req, &dst)

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Details["field"] != "app_id" {
		t.Errorf("details.field: got %v, want %q", appErr.Details["field"], "app_id")
	}
}
