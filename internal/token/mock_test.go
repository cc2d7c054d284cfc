package token

import (
	"context"

	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/provider"
	"github.com/hitoshi/fitsync/internal/repository"
)

// --- モック定義 ---

type mockTokenRepo struct {
	getFn    func(ctx context.Context, userID string, p model.Provider) (*model.ProviderToken, error)
	upsertFn func(ctx context.Context, token *model.ProviderToken) error
	upserted []*model.ProviderToken
}

func (m *mockTokenRepo) Get(ctx context.Context, userID string, p model.Provider) (*model.ProviderToken, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, p)
	}
	return nil, nil
}

func (m *mockTokenRepo) Upsert(ctx context.Context, token *model.ProviderToken) error {
	if m.upsertFn != nil {
		if err := m.upsertFn(ctx, token); err != nil {
			return err
		}
	}
	m.upserted = append(m.upserted, token)
	return nil
}

type mockUserRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(_ context.Context, _ *model.User) error {
	return nil
}

func (m *mockUserRepo) ListWithLinkedProviders(_ context.Context) ([]*model.LinkedUser, error) {
	return nil, nil
}

type mockOAuthProvider struct {
	provider       model.Provider
	authorizeURLFn func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*provider.Token, error)
	refreshFn      func(ctx context.Context, refreshToken string) (*provider.Token, error)
	refreshCalls   int
}

func (m *mockOAuthProvider) Provider() model.Provider {
	return m.provider
}

func (m *mockOAuthProvider) AuthorizeURL(state string) string {
	if m.authorizeURLFn != nil {
		return m.authorizeURLFn(state)
	}
	return "https://auth.example.com/authorize?state=" + state
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*provider.Token, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, nil
}

func (m *mockOAuthProvider) Refresh(ctx context.Context, refreshToken string) (*provider.Token, error) {
	m.refreshCalls++
	if m.refreshFn != nil {
		return m.refreshFn(ctx, refreshToken)
	}
	return nil, nil
}

type mockRecorder struct {
	results []bool
}

func (m *mockRecorder) RecordTokenRefresh(_ model.Provider, success bool) {
	m.results = append(m.results, success)
}

// --- compile-time interface checks ---
var _ repository.TokenRepository = (*mockTokenRepo)(nil)
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)
var _ RefreshRecorder = (*mockRecorder)(nil)
