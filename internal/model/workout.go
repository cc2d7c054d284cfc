package model

import (
	"fmt"
	"time"
)

// WorkoutIdentity はワークアウトの取り込み元を示すタグ付き識別子。
// (Provider, NativeID) の組で一意であり、同じソースを再取り込みしても同じ行に対応する。
type WorkoutIdentity struct {
	Provider Provider
	NativeID int64
}

// ExternalID は識別子をグローバルに一意な文字列キーとして表現する。
func (id WorkoutIdentity) ExternalID() string {
	return fmt.Sprintf("%s:%d", id.Provider, id.NativeID)
}

// CanonicalWorkout は取り込み元によらない統一ワークアウトレコード。
// 心拍関連の値は未取得の場合nilとし、0で埋めない。
type CanonicalWorkout struct {
	ID        string
	UserID    string
	Identity  WorkoutIdentity
	Start     time.Time
	End       time.Time
	AvgHR     *int
	MaxHR     *int
	HRR2Min   *int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Elapsed はワークアウトの経過時間を返す。
func (w *CanonicalWorkout) Elapsed() time.Duration {
	return w.End.Sub(w.Start)
}

// HrvDailyRecord は1日あたりのHRV（RMSSD）記録を表す。
// (UserID, Date, Source) ごとに最大1件。
type HrvDailyRecord struct {
	ID        string
	UserID    string
	Date      time.Time // UTCの0時
	RMSSD     float64   // 秒
	RHR       *int
	Source    Provider
	CreatedAt time.Time
	UpdatedAt time.Time
}
