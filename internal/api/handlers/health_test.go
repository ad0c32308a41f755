package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealth_Ready(t *testing.T) {
	okCheck := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		checks map[string]Check
		code   int
		failed []string
	}{
		{"no checks", nil, http.StatusOK, nil},
		{"all pass", map[string]Check{"postgres": okCheck}, http.StatusOK, nil},
		{"one fails", map[string]Check{"postgres": okCheck, "kafka": down}, http.StatusServiceUnavailable, []string{"kafka"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealth("schedule-api", "test", tt.checks).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
			var resp ReadyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if len(resp.Failed) != len(tt.failed) {
				t.Fatalf("failed = %v, want %v", resp.Failed, tt.failed)
			}
			for _, name := range tt.failed {
				if _, ok := resp.Failed[name]; !ok {
					t.Errorf("%s not reported", name)
				}
			}
		})
	}
}

func TestHealth_Live(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealth("schedule-api", "1.2.3", nil).Live(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || body["service"] != "schedule-api" || body["version"] != "1.2.3" {
		t.Errorf("code=%d body=%v", rec.Code, body)
	}
}
