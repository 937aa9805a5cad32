package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteError_Envelope(t *testing.T) {
	rr := httptest.NewRecorder()
	Conflict(rr, "PLAN_ABORTED", "plan aborted", "rid-1", map[string]any{"index": 1})

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "PLAN_ABORTED" || body.Error.RequestID != "rid-1" {
		t.Fatalf("unexpected envelope: %+v", body.Error)
	}
	if body.Error.Details["index"] != float64(1) {
		t.Fatalf("expected details.index=1, got %v", body.Error.Details["index"])
	}
}

func TestInternal_HidesDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	Internal(rr, "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body ErrorResponse
	_ = json.NewDecoder(rr.Body).Decode(&body)
	if body.Error.Code != "INTERNAL" {
		t.Fatalf("expected INTERNAL, got %q", body.Error.Code)
	}
}
