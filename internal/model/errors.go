package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// レスポンスに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, provider, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInvalidProvider  = "INVALID_PROVIDER"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeLinkFailed       = "LINK_FAILED"
	ErrCodeVaultUnavailable = "VAULT_UNAVAILABLE"
	ErrCodeEmailTaken       = "EMAIL_TAKEN"
)

// NewUnauthorizedError は共有シークレットが不正な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Unauthorized",
		Category: "auth",
		Action:   "Authorizationヘッダーに正しいBearerトークンを指定してください。",
	}
}

// NewInvalidProviderError は未対応のプロバイダーが指定された場合のエラーを生成する。
func NewInvalidProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProvider,
		Message:  fmt.Sprintf("未対応のプロバイダーです: %s", provider),
		Category: "validation",
		Action:   "プロバイダーには whoop または strava を指定してください。",
	}
}

// NewInvalidStateError はOAuthのstateが不正または期限切れの場合のエラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "stateパラメータが不正か、有効期限が切れています。",
		Category: "auth",
		Action:   "連携URLを再発行してからやり直してください。",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエストボディを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "validation",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewEmailTakenError は同じメールアドレスのユーザーが既に存在する場合のエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "既存のユーザーIDを使用するか、別のメールアドレスを指定してください。",
	}
}

// NewLinkFailedError はプロバイダー連携（認可コード交換）に失敗した場合のエラーを生成する。
func NewLinkFailedError(provider Provider) *APIError {
	return &APIError{
		Code:     ErrCodeLinkFailed,
		Message:  fmt.Sprintf("%s との連携に失敗しました。", provider),
		Category: "provider",
		Action:   "しばらく待ってから連携をやり直してください。",
	}
}

// NewVaultUnavailableError は暗号鍵が未設定で認証情報を保存できない場合のエラーを生成する。
func NewVaultUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeVaultUnavailable,
		Message:  "認証情報の暗号鍵が設定されていません。",
		Category: "system",
		Action:   "OTF_ENCRYPTION_KEY を設定してください。",
	}
}

// ErrorKind は外部プロバイダー呼び出し失敗の分類。
type ErrorKind string

const (
	// ErrorKindAuth はトークン交換・リフレッシュがプロバイダーに拒否されたことを示す。
	ErrorKindAuth ErrorKind = "auth"
	// ErrorKindTransport は通信失敗または非成功レスポンスを示す。
	ErrorKindTransport ErrorKind = "transport"
)

// ProviderError は外部プロバイダー呼び出しの失敗を表す。
// 同期処理ではこのエラーの場合のみ、そのプロバイダーを今回の実行から外して処理を継続する。
type ProviderError struct {
	Provider   Provider
	Op         string
	Kind       ErrorKind
	StatusCode int // HTTPレスポンスを受け取れなかった場合は0
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed (%s, status %d): %v", e.Provider, e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed (%s): %v", e.Provider, e.Op, e.Kind, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// AsProviderError はerrのチェーンからProviderErrorを取り出す。
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ErrTokenNotLinked はユーザーがプロバイダーと未連携であることを示す。
var ErrTokenNotLinked = errors.New("provider token not linked")
