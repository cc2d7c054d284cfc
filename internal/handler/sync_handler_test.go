package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/hitoshi/fitsync/internal/orchestrator"
)

func TestSyncTrigger_ReturnsReport(t *testing.T) {
	runner := &mockSyncRunner{report: &orchestrator.Report{
		OK: true,
		Results: []orchestrator.UserResult{
			{UserID: "u1", Email: "a@example.com", WorkoutsImported: 2, Error: "all linked providers failed"},
		},
	}}
	router := newTestRouter(t, &RouterDeps{Sync: runner})

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			w := doRequest(router, method, "/api/cron/sync", "", true)

			// ユーザー単位の失敗があっても200
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			var body map[string]any
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body["ok"] != true {
				t.Errorf("ok = %v, want true", body["ok"])
			}
			results, _ := body["results"].([]any)
			if len(results) != 1 {
				t.Fatalf("len(results) = %d, want 1", len(results))
			}
		})
	}
	if runner.calls != 2 {
		t.Errorf("runner calls = %d, want 2", runner.calls)
	}
}

func TestSyncTrigger_ListFailureReturns500(t *testing.T) {
	runner := &mockSyncRunner{report: &orchestrator.Report{OK: false, Error: "failed to list users"}}
	router := newTestRouter(t, &RouterDeps{Sync: runner})

	w := doRequest(router, http.MethodPost, "/api/cron/sync", "", true)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["ok"] != false || body["error"] == "" {
		t.Errorf("body = %v", body)
	}
}

func TestSyncTrigger_RequiresSecret(t *testing.T) {
	runner := &mockSyncRunner{report: &orchestrator.Report{OK: true}}
	router := newTestRouter(t, &RouterDeps{Sync: runner})

	w := doRequest(router, http.MethodPost, "/api/cron/sync", "", false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if runner.calls != 0 {
		t.Errorf("runner should not be called without secret, calls = %d", runner.calls)
	}
}
