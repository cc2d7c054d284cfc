// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/fitsync/internal/middleware"
	"github.com/hitoshi/fitsync/internal/model"
)

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidProvider, model.ErrCodeInvalidRequest, model.ErrCodeInvalidState:
		return http.StatusBadRequest
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeEmailTaken:
		return http.StatusConflict
	case model.ErrCodeLinkFailed:
		return http.StatusBadGateway
	case model.ErrCodeVaultUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON はリクエストボディをvにデコードする。未知のフィールドは拒否する。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return model.NewInvalidRequestError("JSONの形式が不正です")
	}
	return nil
}
