package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/fitsync/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用したOAuthトークンリポジトリ。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// Get は指定ユーザー・プロバイダーのトークンを取得する。見つからない場合はnilを返す。
func (r *PostgresTokenRepo) Get(ctx context.Context, userID string, provider model.Provider) (*model.ProviderToken, error) {
	token := &model.ProviderToken{}
	var athleteID sql.NullInt64
	var p string

	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, provider, access_token, refresh_token, expires_at,
		        token_type, scope, athlete_id, created_at, updated_at
		 FROM provider_tokens WHERE user_id = $1 AND provider = $2`,
		userID, string(provider),
	).Scan(
		&token.UserID, &p, &token.AccessToken, &token.RefreshToken, &token.ExpiresAt,
		&token.TokenType, &token.Scope, &athleteID, &token.CreatedAt, &token.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find provider token: %w", err)
	}

	token.Provider = model.Provider(p)
	if athleteID.Valid {
		id := athleteID.Int64
		token.AthleteID = &id
	}
	return token, nil
}

// Upsert はトークンを作成または上書きする。
// athlete_idは新しい値がNULLの場合、既存値を維持する。
func (r *PostgresTokenRepo) Upsert(ctx context.Context, token *model.ProviderToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO provider_tokens
		     (user_id, provider, access_token, refresh_token, expires_at,
		      token_type, scope, athlete_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 ON CONFLICT (user_id, provider) DO UPDATE SET
		     access_token  = EXCLUDED.access_token,
		     refresh_token = EXCLUDED.refresh_token,
		     expires_at    = EXCLUDED.expires_at,
		     token_type    = EXCLUDED.token_type,
		     scope         = EXCLUDED.scope,
		     athlete_id    = COALESCE(EXCLUDED.athlete_id, provider_tokens.athlete_id),
		     updated_at    = EXCLUDED.updated_at`,
		token.UserID, string(token.Provider), token.AccessToken, token.RefreshToken, token.ExpiresAt,
		token.TokenType, token.Scope, nullInt64(token.AthleteID), token.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert provider token: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
