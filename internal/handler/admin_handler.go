package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/token"
)

// UserServiceInterface は管理ハンドラーが必要とするユーザーサービスインターフェース。
type UserServiceInterface interface {
	Register(ctx context.Context, email string) (*model.User, error)
	SetClassCredentials(ctx context.Context, userID, username, password string) error
}

// LinkerInterface はプロバイダー連携のインターフェース。
type LinkerInterface interface {
	AuthorizeURL(ctx context.Context, userID string, p model.Provider) (string, error)
	Complete(ctx context.Context, p model.Provider, state, code string) (*model.ProviderToken, error)
}

// AdminHandler はユーザー登録とプロバイダー連携を行う管理用HTTPハンドラー。
type AdminHandler struct {
	users  UserServiceInterface
	linker LinkerInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(users UserServiceInterface, linker LinkerInterface) *AdminHandler {
	return &AdminHandler{users: users, linker: linker}
}

type createUserRequest struct {
	Email string `json:"email"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// CreateUser はユーザーを作成する。
// POST /api/admin/users
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	u, err := h.users.Register(r.Context(), req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{ID: u.ID, Email: u.Email})
}

type connectResponse struct {
	Provider     string `json:"provider"`
	AuthorizeURL string `json:"authorize_url"`
}

// Connect はOAuthプロバイダーとの連携を開始するための認可URLを返す。
// POST /api/admin/users/{userID}/connect/{provider}
func (h *AdminHandler) Connect(w http.ResponseWriter, r *http.Request) {
	p, ok := oauthProviderParam(r)
	if !ok {
		handleServiceError(w, model.NewInvalidProviderError(chi.URLParam(r, "provider")))
		return
	}

	authURL, err := h.linker.AuthorizeURL(r.Context(), chi.URLParam(r, "userID"), p)
	switch {
	case errors.Is(err, token.ErrUserNotFound):
		handleServiceError(w, model.NewUserNotFoundError())
		return
	case errors.Is(err, token.ErrUnknownProvider):
		handleServiceError(w, model.NewInvalidProviderError(string(p)))
		return
	case err != nil:
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, connectResponse{Provider: string(p), AuthorizeURL: authURL})
}

type classCredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SetClassCredentials はクラス予約サイトの認証情報を暗号化して保存する。
// PUT /api/admin/users/{userID}/otf-credentials
func (h *AdminHandler) SetClassCredentials(w http.ResponseWriter, r *http.Request) {
	var req classCredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	userID := chi.URLParam(r, "userID")
	if err := h.users.SetClassCredentials(r.Context(), userID, req.Username, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type callbackResponse struct {
	Linked   bool   `json:"linked"`
	Provider string `json:"provider"`
	UserID   string `json:"user_id"`
}

// Callback はOAuthコールバックを処理し、トークンを保存する。
// GET /oauth/{provider}/callback?code=xxx&state=yyy
func (h *AdminHandler) Callback(w http.ResponseWriter, r *http.Request) {
	p, ok := oauthProviderParam(r)
	if !ok {
		handleServiceError(w, model.NewInvalidProviderError(chi.URLParam(r, "provider")))
		return
	}

	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		slog.Warn("oauth authorization denied",
			slog.String("provider", string(p)),
			slog.String("reason", denied),
		)
		handleServiceError(w, model.NewLinkFailedError(p))
		return
	}

	tok, err := h.linker.Complete(r.Context(), p, q.Get("state"), q.Get("code"))
	if err != nil {
		if errors.Is(err, token.ErrInvalidState) {
			handleServiceError(w, model.NewInvalidStateError())
			return
		}
		if _, isProvider := model.AsProviderError(err); isProvider {
			slog.Error("oauth code exchange failed",
				slog.String("provider", string(p)),
				slog.String("error", err.Error()),
			)
			handleServiceError(w, model.NewLinkFailedError(p))
			return
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, callbackResponse{Linked: true, Provider: string(p), UserID: tok.UserID})
}

// oauthProviderParam はURLパラメータからOAuthで連携するプロバイダーを取り出す。
func oauthProviderParam(r *http.Request) (model.Provider, bool) {
	p, ok := model.ParseProvider(chi.URLParam(r, "provider"))
	if !ok || !p.UsesOAuth() {
		return "", false
	}
	return p, true
}
