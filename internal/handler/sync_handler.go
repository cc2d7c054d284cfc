package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/fitsync/internal/orchestrator"
)

// SyncRunner は同期トリガーが必要とするインターフェース。
type SyncRunner interface {
	Run(ctx context.Context) *orchestrator.Report
}

// SyncHandler は外部スケジューラから呼ばれる同期トリガーのHTTPハンドラー。
type SyncHandler struct {
	runner SyncRunner
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(runner SyncRunner) *SyncHandler {
	return &SyncHandler{runner: runner}
}

// Trigger は同期を1回実行し、レポートをJSONで返す。
// ユーザー単位の失敗があっても200を返す。ユーザー一覧が取得できなかった場合のみ500。
// GET|POST /api/cron/sync
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	report := h.runner.Run(r.Context())

	status := http.StatusOK
	if !report.OK {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, report)
}
