package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/orchestrator"
)

const testSecret = "cron-secret"

type mockSyncRunner struct {
	report *orchestrator.Report
	calls  int
}

func (m *mockSyncRunner) Run(_ context.Context) *orchestrator.Report {
	m.calls++
	return m.report
}

type mockUserService struct {
	registerFn       func(ctx context.Context, email string) (*model.User, error)
	setCredentialsFn func(ctx context.Context, userID, username, password string) error
}

func (m *mockUserService) Register(ctx context.Context, email string) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email)
	}
	return nil, errors.New("not implemented")
}

func (m *mockUserService) SetClassCredentials(ctx context.Context, userID, username, password string) error {
	if m.setCredentialsFn != nil {
		return m.setCredentialsFn(ctx, userID, username, password)
	}
	return errors.New("not implemented")
}

type mockLinker struct {
	authorizeURLFn func(ctx context.Context, userID string, p model.Provider) (string, error)
	completeFn     func(ctx context.Context, p model.Provider, state, code string) (*model.ProviderToken, error)
}

func (m *mockLinker) AuthorizeURL(ctx context.Context, userID string, p model.Provider) (string, error) {
	if m.authorizeURLFn != nil {
		return m.authorizeURLFn(ctx, userID, p)
	}
	return "", errors.New("not implemented")
}

func (m *mockLinker) Complete(ctx context.Context, p model.Provider, state, code string) (*model.ProviderToken, error) {
	if m.completeFn != nil {
		return m.completeFn(ctx, p, state, code)
	}
	return nil, errors.New("not implemented")
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(_ context.Context) error {
	return m.err
}

// newTestRouter はモックを組み込んだルーターを返す。
func newTestRouter(t *testing.T, deps *RouterDeps) http.Handler {
	t.Helper()
	deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	deps.CronSecret = testSecret
	if deps.Sync == nil {
		deps.Sync = &mockSyncRunner{report: &orchestrator.Report{OK: true}}
	}
	if deps.Users == nil {
		deps.Users = &mockUserService{}
	}
	if deps.Linker == nil {
		deps.Linker = &mockLinker{}
	}
	return NewRouter(deps)
}

// doRequest はルーターにリクエストを送り、レスポンスを返す。
func doRequest(router http.Handler, method, target, body string, authorized bool) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testSecret)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}
