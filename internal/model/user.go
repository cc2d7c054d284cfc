// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// 連携済みプロバイダーのトークンと、同期で生成された全レコードを所有する。
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Provider は連携先の外部フィットネスプラットフォームを表す。
type Provider string

const (
	// ProviderWhoop はウェアラブル（リカバリー）API。
	ProviderWhoop Provider = "whoop"
	// ProviderStrava はアクティビティトラッカーAPI。
	ProviderStrava Provider = "strava"
	// ProviderOTF はクラス予約サイト（Orangetheory）。OAuthではなく認証情報で接続する。
	ProviderOTF Provider = "otf"
)

// ParseProvider は文字列をProviderに変換する。未知の値の場合はfalseを返す。
func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderWhoop, ProviderStrava, ProviderOTF:
		return Provider(s), true
	default:
		return "", false
	}
}

// UsesOAuth はプロバイダーがOAuthトークンで認可されるかどうかを返す。
func (p Provider) UsesOAuth() bool {
	return p == ProviderWhoop || p == ProviderStrava
}

// ProviderToken はユーザー×プロバイダーごとのOAuth認証情報を表す。
// リフレッシュ判定はExpiresAtのみを根拠とする。
type ProviderToken struct {
	UserID       string
	Provider     Provider
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	TokenType    string
	Scope        string
	AthleteID    *int64 // Stravaのみ
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ClassCredential はクラス予約サイトの暗号化済み認証情報を表す。
// 平文は永続化しない。
type ClassCredential struct {
	UserID         string
	UsernameCipher string
	PasswordCipher string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LinkedUser は同期対象ユーザーと連携済みプロバイダーの一覧を表す。
type LinkedUser struct {
	User
	Providers []Provider
}

// Has は指定プロバイダーが連携済みかどうかを返す。
func (u *LinkedUser) Has(p Provider) bool {
	for _, linked := range u.Providers {
		if linked == p {
			return true
		}
	}
	return false
}
