package token

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/repository"
)

var (
	// ErrInvalidState はstateの署名・形式・有効期限・プロバイダーのいずれかが不正であることを示す。
	ErrInvalidState = errors.New("invalid oauth state")
	// ErrUserNotFound は連携対象のユーザーが存在しないことを示す。
	ErrUserNotFound = errors.New("user not found")
)

// Linker はプロバイダー連携（認可URL発行とコールバック処理）を行う。
// stateにはユーザーID・プロバイダー・有効期限をHMAC-SHA256で署名して埋め込む。
type Linker struct {
	tokens    repository.TokenRepository
	users     repository.UserRepository
	providers map[model.Provider]OAuthProvider
	secret    []byte
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewLinker はLinkerを生成する。
func NewLinker(
	tokens repository.TokenRepository,
	users repository.UserRepository,
	providers []OAuthProvider,
	secret string,
	ttl time.Duration,
	logger *slog.Logger,
) *Linker {
	byProvider := make(map[model.Provider]OAuthProvider, len(providers))
	for _, p := range providers {
		byProvider[p.Provider()] = p
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{
		tokens:    tokens,
		users:     users,
		providers: byProvider,
		secret:    []byte(secret),
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
}

// AuthorizeURL はユーザーを指定プロバイダーと連携するための認可URLを返す。
func (l *Linker) AuthorizeURL(ctx context.Context, userID string, p model.Provider) (string, error) {
	client, ok := l.providers[p]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}

	user, err := l.users.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return "", ErrUserNotFound
	}

	state, err := l.signState(userID, p)
	if err != nil {
		return "", err
	}
	return client.AuthorizeURL(state), nil
}

// Complete はコールバックで受け取ったstateを検証し、認可コードをトークンに交換して保存する。
func (l *Linker) Complete(ctx context.Context, p model.Provider, state, code string) (*model.ProviderToken, error) {
	client, ok := l.providers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}

	userID, err := l.verifyState(state, p)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, fmt.Errorf("%w: missing code", ErrInvalidState)
	}

	grant, err := client.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	existing, err := l.tokens.Get(ctx, userID, p)
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	now := l.now()
	tok := ApplyGrant(existing, grant, now)
	tok.UserID = userID
	tok.Provider = p
	if err := l.tokens.Upsert(ctx, tok); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}

	l.logger.Info("provider linked",
		slog.String("user_id", userID),
		slog.String("provider", string(p)),
	)
	return tok, nil
}

// signState は "<provider>|<user_id>|<expires_unix>|<nonce>" を署名したstateを生成する。
func (l *Linker) signState(userID string, p model.Provider) (string, error) {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}

	expires := l.now().Add(l.ttl).Unix()
	payload := strings.Join([]string{
		string(p), userID, strconv.FormatInt(expires, 10), hex.EncodeToString(nonce),
	}, "|")

	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(payload)) + "." + enc.EncodeToString(l.mac([]byte(payload))), nil
}

// verifyState はstateを検証し、埋め込まれたユーザーIDを返す。
func (l *Linker) verifyState(state string, p model.Provider) (string, error) {
	enc := base64.RawURLEncoding

	encodedPayload, encodedSig, found := strings.Cut(state, ".")
	if !found {
		return "", ErrInvalidState
	}
	payload, err := enc.DecodeString(encodedPayload)
	if err != nil {
		return "", ErrInvalidState
	}
	sig, err := enc.DecodeString(encodedSig)
	if err != nil {
		return "", ErrInvalidState
	}
	if !hmac.Equal(sig, l.mac(payload)) {
		return "", ErrInvalidState
	}

	parts := strings.Split(string(payload), "|")
	if len(parts) != 4 {
		return "", ErrInvalidState
	}
	if parts[0] != string(p) {
		return "", ErrInvalidState
	}
	expires, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || l.now().Unix() > expires {
		return "", ErrInvalidState
	}
	return parts[1], nil
}

func (l *Linker) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, l.secret)
	h.Write(payload)
	return h.Sum(nil)
}
