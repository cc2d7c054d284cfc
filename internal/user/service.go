// Package user はユーザー登録とクラス予約サイト認証情報の管理を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/repository"
)

// Encrypter は認証情報を暗号化する。
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo       repository.UserRepository
	credentialRepo repository.ClassCredentialRepository
	encrypter      Encrypter
	now            func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// encrypterがnilの場合、認証情報の保存はできない。
func NewService(
	userRepo repository.UserRepository,
	credentialRepo repository.ClassCredentialRepository,
	encrypter Encrypter,
) *Service {
	return &Service{
		userRepo:       userRepo,
		credentialRepo: credentialRepo,
		encrypter:      encrypter,
		now:            time.Now,
	}
}

// Register はメールアドレスでユーザーを作成する。
// メールアドレスは前後の空白を除き小文字に正規化する。
func (s *Service) Register(ctx context.Context, email string) (*model.User, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return nil, model.NewInvalidRequestError("emailの形式が不正です")
	}

	now := s.now().UTC()
	u := &model.User{
		ID:        uuid.New().String(),
		Email:     normalized,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("ユーザーを登録しました", slog.String("user_id", u.ID))
	return u, nil
}

// SetClassCredentials はクラス予約サイトの認証情報を暗号化して保存する。
// 平文は保存しない。既存の認証情報は上書きする。
func (s *Service) SetClassCredentials(ctx context.Context, userID, username, password string) error {
	if s.encrypter == nil {
		return model.NewVaultUnavailableError()
	}
	if username == "" || password == "" {
		return model.NewInvalidRequestError("usernameとpasswordは必須です")
	}

	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return model.NewUserNotFoundError()
	}

	usernameCipher, err := s.encrypter.Encrypt(username)
	if err != nil {
		return fmt.Errorf("認証情報の暗号化に失敗しました: %w", err)
	}
	passwordCipher, err := s.encrypter.Encrypt(password)
	if err != nil {
		return fmt.Errorf("認証情報の暗号化に失敗しました: %w", err)
	}

	now := s.now().UTC()
	if err := s.credentialRepo.Upsert(ctx, &model.ClassCredential{
		UserID:         userID,
		UsernameCipher: usernameCipher,
		PasswordCipher: passwordCipher,
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		return fmt.Errorf("認証情報の保存に失敗しました: %w", err)
	}

	slog.Info("クラス予約サイトの認証情報を保存しました", slog.String("user_id", userID))
	return nil
}
