package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"spendly/internal/gateway"
)

func TestHTMXResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewHTMXResponse().
		Status(http.StatusOK).
		Body([]byte("test")).
		Write(w)

	if w.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.String() != "test" {
		t.Errorf("Body = %q, want %q", w.Body.String(), "test")
	}
	if w.Header().Get("HX-Trigger") != "" {
		t.Error("HX-Trigger should be absent without triggers")
	}
}

func decodeTriggers(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	raw := w.Header().Get("HX-Trigger")
	if raw == "" {
		t.Fatal("HX-Trigger header not set")
	}
	var triggers map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &triggers); err != nil {
		t.Fatalf("HX-Trigger is not JSON: %v (%s)", err, raw)
	}
	return triggers
}

func TestHTMXResponseBuilder_TriggerResult(t *testing.T) {
	notice := gateway.Notice{Kind: gateway.NoticeSuccess, Text: gateway.MsgAdded, Duration: 3 * time.Second}

	tests := []struct {
		name   string
		result gateway.Result
		want   []string
		absent []string
	}{
		{
			name:   "create",
			result: gateway.Result{Notice: notice, ResetForm: true},
			want:   []string{EventShowNotification, EventFormReset},
			absent: []string{EventEditExit},
		},
		{
			name:   "update",
			result: gateway.Result{Notice: notice, ExitEdit: true},
			want:   []string{EventShowNotification, EventEditExit},
			absent: []string{EventFormReset},
		},
		{
			name:   "delete",
			result: gateway.Result{Notice: notice},
			want:   []string{EventShowNotification},
			absent: []string{EventFormReset, EventEditExit},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHTMXResponse().TriggerResult(tt.result).Write(w)

			triggers := decodeTriggers(t, w)
			for _, name := range tt.want {
				if _, ok := triggers[name]; !ok {
					t.Errorf("missing trigger %q", name)
				}
			}
			for _, name := range tt.absent {
				if _, ok := triggers[name]; ok {
					t.Errorf("unexpected trigger %q", name)
				}
			}
		})
	}
}

func TestHTMXResponseBuilder_NotificationPayload(t *testing.T) {
	w := httptest.NewRecorder()
	NewHTMXResponse().
		TriggerNotice(gateway.Notice{Kind: gateway.NoticeError, Text: gateway.MsgSaveFailed, Duration: 3 * time.Second}).
		Write(w)

	var payload struct {
		Type     string `json:"type"`
		Message  string `json:"message"`
		Duration int64  `json:"duration"`
	}
	if err := json.Unmarshal(decodeTriggers(t, w)[EventShowNotification], &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Type != "error" || payload.Message != gateway.MsgSaveFailed || payload.Duration != 3000 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestHTMXResponseBuilder_Headers(t *testing.T) {
	w := httptest.NewRecorder()

	NewHTMXResponse().
		Header("X-Custom", "value").
		Redirect("/login").
		PushURL("/dashboard?sort=date_asc").
		Status(http.StatusCreated).
		Write(w)

	if w.Header().Get("X-Custom") != "value" {
		t.Errorf("Custom header not set")
	}
	if w.Header().Get("HX-Redirect") != "/login" {
		t.Errorf("HX-Redirect = %q", w.Header().Get("HX-Redirect"))
	}
	if w.Header().Get("HX-Push-Url") != "/dashboard?sort=date_asc" {
		t.Errorf("HX-Push-Url = %q", w.Header().Get("HX-Push-Url"))
	}
	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		builder    *HTMXResponseBuilder
		wantStatus int
		wantBody   string
	}{
		{
			name:       "bad request",
			builder:    BadRequestError("Invalid input"),
			wantStatus: http.StatusBadRequest,
			wantBody:   `<div class="alert alert-error">Invalid input</div>`,
		},
		{
			name:       "not found",
			builder:    NotFoundError("Resource not found"),
			wantStatus: http.StatusNotFound,
			wantBody:   `<div class="alert alert-error">Resource not found</div>`,
		},
		{
			name:       "custom status",
			builder:    ErrorResponse(http.StatusServiceUnavailable, "Down"),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `<div class="alert alert-error">Down</div>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.builder.Write(w)

			if w.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", w.Code, tt.wantStatus)
			}
			if w.Body.String() != tt.wantBody {
				t.Errorf("Body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestErrorResponse_EscapesHTML(t *testing.T) {
	w := httptest.NewRecorder()

	BadRequestError("<script>alert('xss')</script>").Write(w)

	body := w.Body.String()
	if strings.Contains(body, "<script>") {
		t.Error("Error response did not escape HTML")
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Error("Error response did not properly escape HTML entities")
	}
}
