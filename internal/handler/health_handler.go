package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger はデータベース疎通確認のインターフェース。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
// Pingerがnilの場合はプロセスの生存のみを返す。
func HealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
