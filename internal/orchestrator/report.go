package orchestrator

import (
	"time"

	"github.com/hitoshi/fitsync/internal/model"
)

// Report は同期実行1回分の結果。
// ユーザー単位の失敗があっても実行は完了する。
// OKはユーザー一覧の取得に成功し、途中でキャンセルされずに全員を処理したかを示す。
type Report struct {
	OK         bool         `json:"ok"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Results    []UserResult `json:"results"`
	Error      string       `json:"error,omitempty"`
}

// UserResult はユーザー1人分の取り込み件数とエラー。
type UserResult struct {
	UserID           string            `json:"user_id"`
	Email            string            `json:"email"`
	WorkoutsImported int               `json:"workouts_imported"`
	WorkoutsUpdated  int               `json:"workouts_updated"`
	RecoveryImported int               `json:"recovery_imported"`
	RecoveryUpdated  int               `json:"recovery_updated"`
	ClassImports     int               `json:"class_imports"`
	HRRDerived       int               `json:"hrr_derived"`
	HRRSkipped       int               `json:"hrr_skipped"`
	RecordsRejected  int               `json:"records_rejected,omitempty"`
	ProviderErrors   map[string]string `json:"provider_errors,omitempty"`
	Error            string            `json:"error,omitempty"`
}

func (r *UserResult) addProviderError(p model.Provider, err error) {
	if r.ProviderErrors == nil {
		r.ProviderErrors = make(map[string]string)
	}
	r.ProviderErrors[string(p)] = err.Error()
}

// Failed はユーザー単位で失敗したかどうかを返す。
func (r *UserResult) Failed() bool {
	return r.Error != ""
}

// FailedUsers は失敗したユーザー数を返す。
func (r *Report) FailedUsers() int {
	n := 0
	for i := range r.Results {
		if r.Results[i].Failed() {
			n++
		}
	}
	return n
}
