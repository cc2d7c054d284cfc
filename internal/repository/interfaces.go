// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/fitsync/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// ListWithLinkedProviders は1つ以上のプロバイダーと連携済みのユーザーを
	// 連携プロバイダー一覧付きで作成日時順に返す。
	// OAuthプロバイダーはトークン、OTFは認証情報の有無で連携済みと判定する。
	ListWithLinkedProviders(ctx context.Context) ([]*model.LinkedUser, error)
}

// TokenRepository はOAuthトークンの永続化インターフェース。
// ユーザー×プロバイダーごとに最大1件を保持する。
type TokenRepository interface {
	// Get は指定ユーザー・プロバイダーのトークンを取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, userID string, provider model.Provider) (*model.ProviderToken, error)

	// Upsert はトークンを作成または上書きする。
	// アクセストークン、リフレッシュトークン、有効期限は1文で更新される。
	Upsert(ctx context.Context, token *model.ProviderToken) error
}

// WorkoutRepository は統一ワークアウトレコードの永続化インターフェース。
type WorkoutRepository interface {
	// FindByIdentity は取り込み元識別子でワークアウトを検索する。見つからない場合はnilを返す。
	FindByIdentity(ctx context.Context, identity model.WorkoutIdentity) (*model.CanonicalWorkout, error)

	// Create はワークアウトを作成する。
	Create(ctx context.Context, workout *model.CanonicalWorkout) error

	// Update は既存ワークアウトの開始・終了時刻と心拍値を上書きする。
	// hrr2minは変更しない。
	Update(ctx context.Context, workout *model.CanonicalWorkout) error

	// UpdateHRR はワークアウトのhrr2minを更新する。
	UpdateHRR(ctx context.Context, workoutID string, value int) error
}

// HrvRepository は日次HRVレコードの永続化インターフェース。
type HrvRepository interface {
	// Upsert は(user_id, date, source)をキーにレコードを作成または上書きする。
	// 新規作成された場合はtrueを返す。
	Upsert(ctx context.Context, record *model.HrvDailyRecord) (inserted bool, err error)
}

// ClassCredentialRepository はクラス予約サイト認証情報（暗号文）の永続化インターフェース。
type ClassCredentialRepository interface {
	// Find は指定ユーザーの認証情報を取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, userID string) (*model.ClassCredential, error)

	// Upsert は認証情報を作成または上書きする。
	Upsert(ctx context.Context, credential *model.ClassCredential) error
}
