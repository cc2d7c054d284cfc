package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/fitsync/internal/model"
	"github.com/lib/pq"
)

// ErrEmailTaken は同じメールアドレスのユーザーが既に存在することを示す。
var ErrEmailTaken = errors.New("email already registered")

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, created_at, updated_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Email, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// Create はユーザーを作成する。メールアドレスが重複する場合はErrEmailTakenを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, created_at, updated_at)
		 VALUES ($1, $2, $3, $4)`,
		user.ID, user.Email, user.CreatedAt, user.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// ListWithLinkedProviders は連携済みプロバイダーを持つユーザーを作成日時順に返す。
func (r *PostgresUserRepo) ListWithLinkedProviders(ctx context.Context) ([]*model.LinkedUser, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.email, u.created_at, u.updated_at, l.provider
		 FROM users u
		 JOIN (
		     SELECT user_id, provider FROM provider_tokens
		     UNION ALL
		     SELECT user_id, 'otf'::varchar AS provider FROM class_credentials
		 ) l ON l.user_id = u.id
		 ORDER BY u.created_at, u.id, l.provider`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked users: %w", err)
	}
	defer rows.Close()

	var users []*model.LinkedUser
	var current *model.LinkedUser
	for rows.Next() {
		var u model.User
		var provider string
		if err := rows.Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt, &provider); err != nil {
			return nil, fmt.Errorf("failed to scan linked user: %w", err)
		}
		if current == nil || current.ID != u.ID {
			current = &model.LinkedUser{User: u}
			users = append(users, current)
		}
		if p, ok := model.ParseProvider(provider); ok {
			current.Providers = append(current.Providers, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate linked users: %w", err)
	}

	return users, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
