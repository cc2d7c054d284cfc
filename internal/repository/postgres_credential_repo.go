package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/fitsync/internal/model"
)

// PostgresClassCredentialRepo はPostgreSQLを使用したクラス予約サイト認証情報リポジトリ。
// 暗号文のみを扱い、復号は呼び出し側の責務とする。
type PostgresClassCredentialRepo struct {
	db *sql.DB
}

// NewPostgresClassCredentialRepo はPostgresClassCredentialRepoを生成する。
func NewPostgresClassCredentialRepo(db *sql.DB) *PostgresClassCredentialRepo {
	return &PostgresClassCredentialRepo{db: db}
}

// Find は指定ユーザーの認証情報を取得する。見つからない場合はnilを返す。
func (r *PostgresClassCredentialRepo) Find(ctx context.Context, userID string) (*model.ClassCredential, error) {
	c := &model.ClassCredential{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, username_cipher, password_cipher, created_at, updated_at
		 FROM class_credentials WHERE user_id = $1`,
		userID,
	).Scan(&c.UserID, &c.UsernameCipher, &c.PasswordCipher, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find class credential: %w", err)
	}
	return c, nil
}

// Upsert は認証情報を作成または上書きする。
func (r *PostgresClassCredentialRepo) Upsert(ctx context.Context, c *model.ClassCredential) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO class_credentials (user_id, username_cipher, password_cipher, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (user_id) DO UPDATE SET
		     username_cipher = EXCLUDED.username_cipher,
		     password_cipher = EXCLUDED.password_cipher,
		     updated_at      = EXCLUDED.updated_at`,
		c.UserID, c.UsernameCipher, c.PasswordCipher, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert class credential: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ClassCredentialRepository = (*PostgresClassCredentialRepo)(nil)
