// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/fitsync/internal/model"
)

// NewBearerAuthMiddleware はAuthorization: Bearer <secret> を検証するミドルウェアを返す。
// 比較は定数時間で行い、不一致または未指定の場合は後続のハンドラーを呼ばずに401を返す。
// secretが空の場合はすべてのリクエストを拒否する。
func NewBearerAuthMiddleware(secret string) func(next http.Handler) http.Handler {
	expected := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || len(expected) == 0 || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
				slog.Warn("bearer authentication failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", clientKey(r)),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// スキーム名は大文字小文字を区別しない。
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}
