// Package token はOAuthトークンのライフサイクル（発行・リフレッシュ）を管理する。
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/provider"
	"github.com/hitoshi/fitsync/internal/repository"
)

// RefreshMargin は有効期限までの残り時間がこれ未満になったらリフレッシュする閾値。
const RefreshMargin = 5 * time.Minute

// OAuthProvider はOAuthで認可するプロバイダーのクライアント。
type OAuthProvider interface {
	Provider() model.Provider
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*provider.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*provider.Token, error)
}

// RefreshRecorder はリフレッシュ結果を記録する。
type RefreshRecorder interface {
	RecordTokenRefresh(provider model.Provider, success bool)
}

// ErrUnknownProvider はOAuthクライアントが登録されていないプロバイダーが指定されたことを示す。
var ErrUnknownProvider = errors.New("no oauth client registered for provider")

// NeedsRefresh はトークンのリフレッシュが必要かどうかを判定する。
// 判定根拠は有効期限のみ。
func NeedsRefresh(t *model.ProviderToken, now time.Time) bool {
	return t.ExpiresAt.Sub(now) < RefreshMargin
}

// Manager は有効なアクセストークンを払い出す。
type Manager struct {
	tokens    repository.TokenRepository
	providers map[model.Provider]OAuthProvider
	recorder  RefreshRecorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager はManagerを生成する。recorderはnilでもよい。
func NewManager(
	tokens repository.TokenRepository,
	providers []OAuthProvider,
	recorder RefreshRecorder,
	logger *slog.Logger,
) *Manager {
	byProvider := make(map[model.Provider]OAuthProvider, len(providers))
	for _, p := range providers {
		byProvider[p.Provider()] = p
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		tokens:    tokens,
		providers: byProvider,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// AccessToken は指定ユーザー・プロバイダーの有効なアクセストークンを返す。
// 期限切れが近い場合はリフレッシュし、新しいトークン一式を永続化してから返す。
// 未連携の場合はmodel.ErrTokenNotLinkedを返す。
// リフレッシュの失敗はmodel.ProviderErrorとして返り、その場合は何も永続化しない。
func (m *Manager) AccessToken(ctx context.Context, userID string, p model.Provider) (string, error) {
	client, ok := m.providers[p]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}

	stored, err := m.tokens.Get(ctx, userID, p)
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	if stored == nil {
		return "", model.ErrTokenNotLinked
	}

	now := m.now()
	if !NeedsRefresh(stored, now) {
		return stored.AccessToken, nil
	}

	refreshed, err := client.Refresh(ctx, stored.RefreshToken)
	if err != nil {
		m.record(p, false)
		m.logger.Warn("token refresh failed",
			slog.String("user_id", userID),
			slog.String("provider", string(p)),
			slog.String("error", err.Error()),
		)
		if _, isProvider := model.AsProviderError(err); isProvider {
			return "", err
		}
		return "", &model.ProviderError{Provider: p, Op: "refresh", Kind: model.ErrorKindAuth, Err: err}
	}
	m.record(p, true)

	updated := ApplyGrant(stored, refreshed, now)
	if err := m.tokens.Upsert(ctx, updated); err != nil {
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	m.logger.Info("token refreshed",
		slog.String("user_id", userID),
		slog.String("provider", string(p)),
		slog.Time("expires_at", updated.ExpiresAt),
	)
	return updated.AccessToken, nil
}

func (m *Manager) record(p model.Provider, success bool) {
	if m.recorder != nil {
		m.recorder.RecordTokenRefresh(p, success)
	}
}

// ApplyGrant は既存トークンにプロバイダー応答を適用した新しいトークンを返す。
// リフレッシュトークンは応答の値を使い、応答に含まれない場合のみ既存値を維持する。
// storedがnilの場合は新規トークンとして扱う。
func ApplyGrant(stored *model.ProviderToken, grant *provider.Token, now time.Time) *model.ProviderToken {
	t := &model.ProviderToken{CreatedAt: now}
	if stored != nil {
		*t = *stored
	}

	t.AccessToken = grant.AccessToken
	if grant.RefreshToken != "" {
		t.RefreshToken = grant.RefreshToken
	}
	t.ExpiresAt = grant.ExpiresAt
	if grant.TokenType != "" {
		t.TokenType = grant.TokenType
	}
	if grant.Scope != "" {
		t.Scope = grant.Scope
	}
	if grant.AthleteID != nil {
		t.AthleteID = grant.AthleteID
	}
	t.UpdatedAt = now
	return t
}
