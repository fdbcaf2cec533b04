package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	perrors "github.com/matzehuels/pipescope/pkg/errors"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := WriteJSON(rec, http.StatusCreated, map[string]int{"n": 1}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := rec.Body.String(); got != "{\n  \"n\": 1\n}\n" {
		t.Errorf("body = %q", got)
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   ErrorBody
	}{
		{
			name:   "not found",
			err:    perrors.New(perrors.ErrCodeSessionNotFound, "session %q not found", "x"),
			status: http.StatusNotFound,
			body:   ErrorBody{Error: `session "x" not found`, Code: perrors.ErrCodeSessionNotFound},
		},
		{
			name:   "bad input",
			err:    perrors.New(perrors.ErrCodeInvalidInput, "bad format"),
			status: http.StatusBadRequest,
			body:   ErrorBody{Error: "bad format", Code: perrors.ErrCodeInvalidInput},
		},
		{
			name:   "wrapped",
			err:    fmt.Errorf("render: %w", perrors.New(perrors.ErrCodeUnsupported, "no svg")),
			status: http.StatusNotImplemented,
			body:   ErrorBody{Error: "no svg", Code: perrors.ErrCodeUnsupported},
		},
		{
			name:   "plain error hides details",
			err:    fmt.Errorf("dial 10.0.0.1: refused"),
			status: http.StatusInternalServerError,
			body:   ErrorBody{Error: "Internal Server Error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var got ErrorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if got != tt.body {
				t.Errorf("body = %+v, want %+v", got, tt.body)
			}
		})
	}
}

func TestNotModified(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{`W/"7"`, true},
		{`"7"`, true},
		{`W/"6", W/"7"`, true},
		{`W/"8"`, false},
		{"*", true},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("If-None-Match", tt.header)
		}
		rec := httptest.NewRecorder()
		got := NotModified(rec, req, ETag(7))
		if got != tt.want {
			t.Errorf("If-None-Match %q: NotModified = %v, want %v", tt.header, got, tt.want)
		}
		if rec.Header().Get("ETag") != `W/"7"` {
			t.Errorf("ETag header = %q", rec.Header().Get("ETag"))
		}
		if got && rec.Code != http.StatusNotModified {
			t.Errorf("status = %d, want 304", rec.Code)
		}
	}
}
