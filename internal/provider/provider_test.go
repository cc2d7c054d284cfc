package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/hitoshi/fitsync/internal/model"
	"golang.org/x/time/rate"
)

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   EndpointKind
		want   model.ErrorKind
	}{
		{"401 data", 401, EndpointData, model.ErrorKindAuth},
		{"403 token", 403, EndpointToken, model.ErrorKindAuth},
		{"400 token is invalid_grant", 400, EndpointToken, model.ErrorKindAuth},
		{"400 data", 400, EndpointData, model.ErrorKindTransport},
		{"429", 429, EndpointData, model.ErrorKindTransport},
		{"500 token", 500, EndpointToken, model.ErrorKindTransport},
		{"404", 404, EndpointData, model.ErrorKindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyHTTPStatus(tt.status, tt.kind); got != tt.want {
				t.Errorf("ClassifyHTTPStatus(%d) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

func TestClient_GetJSON_SendsBearerAndDecodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value":7}`))
	}))
	defer server.Close()

	c := NewClient(model.ProviderStrava, server.Client(), nil)

	var out struct {
		Value int `json:"value"`
	}
	if err := c.GetJSON(context.Background(), "get", server.URL, "tok", &out); err != nil {
		t.Fatalf("GetJSON returned error: %v", err)
	}
	if out.Value != 7 {
		t.Errorf("Value = %d, want 7", out.Value)
	}
}

func TestClient_NonSuccessReturnsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	c := NewClient(model.ProviderWhoop, server.Client(), nil)
	err := c.PostForm(context.Background(), "refresh", server.URL, url.Values{"a": {"b"}}, EndpointToken, nil)

	pe, ok := model.AsProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Provider != model.ProviderWhoop {
		t.Errorf("Provider = %q, want %q", pe.Provider, model.ProviderWhoop)
	}
	if pe.Kind != model.ErrorKindAuth {
		t.Errorf("Kind = %q, want %q", pe.Kind, model.ErrorKindAuth)
	}
	if pe.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", pe.StatusCode)
	}
}

func TestClient_MalformedJSONIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	c := NewClient(model.ProviderStrava, server.Client(), nil)
	var out map[string]any
	err := c.GetJSON(context.Background(), "get", server.URL, "tok", &out)

	pe, ok := model.AsProviderError(err)
	if !ok || pe.Kind != model.ErrorKindTransport {
		t.Fatalf("expected transport ProviderError, got %v", err)
	}
}

// TestClient_OversizedBodyIsReportedExplicitly は上限を超えるボディが
// JSONパースエラーではなくサイズ超過として報告されることを検証する。
func TestClient_OversizedBodyIsReportedExplicitly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"records":["aaaaaaaaaaaaaaaaaaaaaaaa"]}`))
	}))
	defer server.Close()

	c := NewClient(model.ProviderWhoop, server.Client(), nil)
	c.maxBody = 16
	var out map[string]any
	err := c.GetJSON(context.Background(), "list_workouts", server.URL, "tok", &out)

	pe, ok := model.AsProviderError(err)
	if !ok || pe.Kind != model.ErrorKindTransport {
		t.Fatalf("expected transport ProviderError, got %v", err)
	}
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Errorf("expected ErrResponseTooLarge, got %v", err)
	}
}

func TestClient_BodyAtLimitIsAccepted(t *testing.T) {
	body := `{"a":"bcdefghij"}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer server.Close()

	c := NewClient(model.ProviderWhoop, server.Client(), nil)
	c.maxBody = int64(len(body))
	var out map[string]string
	if err := c.GetJSON(context.Background(), "get", server.URL, "tok", &out); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out["a"] != "bcdefghij" {
		t.Errorf("out = %v", out)
	}
}

func TestClient_UnreachableIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	c := NewClient(model.ProviderStrava, &http.Client{Timeout: time.Second}, nil)
	err := c.GetJSON(context.Background(), "get", addr, "tok", nil)

	pe, ok := model.AsProviderError(err)
	if !ok || pe.Kind != model.ErrorKindTransport || pe.StatusCode != 0 {
		t.Fatalf("expected transport ProviderError without status, got %v", err)
	}
}

// TestClient_RateLimiterHonoursContext はリミッター待機中にコンテキストが
// キャンセルされた場合、リクエストを送らずにエラーを返すことを検証する。
func TestClient_RateLimiterHonoursContext(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	c := NewClient(model.ProviderWhoop, server.Client(), limiter)

	if err := c.GetJSON(context.Background(), "first", server.URL, "", nil); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.GetJSON(ctx, "second", server.URL, "", nil)
	if err == nil {
		t.Fatal("expected rate limiter error, got nil")
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
	var pe *model.ProviderError
	if !errors.As(err, &pe) {
		t.Errorf("expected ProviderError, got %T", err)
	}
}
