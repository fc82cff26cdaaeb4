package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]any{"state": "sleeping", "voltage": 3300})

	if got := w.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q; want application/json; charset=utf-8", got)
	}
	if w.Code != http.StatusOK {
		t.Errorf("Code = %d; want %d", w.Code, http.StatusOK)
	}
	var got map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if got["state"] != "sleeping" {
		t.Errorf("body[state] = %v; want sleeping", got["state"])
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusServiceUnavailable, "no cycle has run yet")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Code = %d; want %d", w.Code, http.StatusServiceUnavailable)
	}
	var got map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if got["error"] != http.StatusText(http.StatusServiceUnavailable) {
		t.Errorf("error = %v; want %q", got["error"], http.StatusText(http.StatusServiceUnavailable))
	}
	if got["message"] != "no cycle has run yet" {
		t.Errorf("message = %v; want %q", got["message"], "no cycle has run yet")
	}
}
