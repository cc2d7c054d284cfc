package orchestrator

import "time"

// Lookback は1回の同期で取得対象とする期間。
const Lookback = 14 * 24 * time.Hour

// Window は同期実行ごとに1回だけ計算する取得期間。
// 時刻はすべてUTCで扱う。
type Window struct {
	// Start はnow-14日のUTC日の始まり。
	Start time.Time
	// End はnowのUTC日の終わり。
	End time.Time
	// After はStravaのafterパラメータ（now-14日のunix秒）。
	After int64
}

// NewWindow はnowを基準に取得期間を計算する。
func NewWindow(now time.Time) Window {
	now = now.UTC()
	from := now.Add(-Lookback)
	return Window{
		Start: startOfDay(from),
		End:   startOfDay(now).Add(24*time.Hour - time.Millisecond),
		After: from.Unix(),
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
