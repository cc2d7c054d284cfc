// Package hrr は心拍数ストリームから運動後2分間の心拍回復（HRR2min）を算出する。
package hrr

import (
	"math"
	"sort"
	"time"
)

const (
	// MinElapsed は算出を試みる最小の運動時間。
	// 運動終了時点と+120秒の両方がストリーム内またはその近傍にある必要がある。
	MinElapsed = 150 * time.Second
	// RecoveryWindow は回復を測る終了後の経過時間。
	RecoveryWindow = 120 * time.Second
)

// Stream は心拍数と経過秒の時系列。永続化しない。
// Timeは単調非減少で、HeartRateと同じ長さである必要がある。
type Stream struct {
	Time      []float64 // 開始からの経過秒
	HeartRate []float64 // bpm
}

// Outcome は算出結果の種別。
type Outcome int

const (
	// OutcomeDerived は値が算出されたことを示す。
	OutcomeDerived Outcome = iota
	// OutcomeSkipped は前提条件を満たさず算出しなかったことを示す。
	OutcomeSkipped
)

// SkipReason は算出を見送った理由。
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipTooShort       SkipReason = "activity_too_short"
	SkipMissingStream  SkipReason = "stream_missing"
	SkipLengthMismatch SkipReason = "stream_length_mismatch"
	SkipNonMonotonic   SkipReason = "stream_not_monotonic"
	SkipFetchFailed    SkipReason = "stream_fetch_failed"
)

// Result はHRR2minの算出結果。Outcomeが OutcomeSkipped の場合 Value は意味を持たない。
type Result struct {
	Outcome Outcome
	Value   int
	Reason  SkipReason
}

// Derived は算出値を持つResultを返す。
func Derived(v int) Result {
	return Result{Outcome: OutcomeDerived, Value: v}
}

// Skipped は見送り理由を持つResultを返す。
func Skipped(reason SkipReason) Result {
	return Result{Outcome: OutcomeSkipped, Reason: reason}
}

// Ok は値が算出されたかどうかを返す。
func (r Result) Ok() bool {
	return r.Outcome == OutcomeDerived
}

// Eligible は運動時間が算出対象の下限以上かどうかを返す。
// ストリーム取得の前に判定し、短すぎる運動ではストリームを要求しない。
func Eligible(elapsed time.Duration) bool {
	return elapsed >= MinElapsed
}

// Validate はストリームが算出の前提条件を満たすか確認する。
func Validate(s Stream) SkipReason {
	if len(s.Time) == 0 || len(s.HeartRate) == 0 {
		return SkipMissingStream
	}
	if len(s.Time) != len(s.HeartRate) {
		return SkipLengthMismatch
	}
	for i := 1; i < len(s.Time); i++ {
		if s.Time[i] < s.Time[i-1] {
			return SkipNonMonotonic
		}
	}
	return SkipNone
}

// HeartRateAt は経過秒tにおける心拍数を区分線形補間で求める。
// tが最初のサンプル以前なら先頭値、最後のサンプルより後なら末尾値を返す。
// サンプル時刻に一致する場合はその値を補間誤差なしで返す。
// sはValidateを通過している必要がある。
func HeartRateAt(s Stream, t float64) int {
	// 時刻がt以上となる最初のインデックス。存在しない場合はlen(s.Time)
	i := sort.SearchFloat64s(s.Time, t)
	switch {
	case i == 0:
		return roundBPM(s.HeartRate[0])
	case i == len(s.Time):
		return roundBPM(s.HeartRate[len(s.HeartRate)-1])
	case s.Time[i] == t:
		return roundBPM(s.HeartRate[i])
	}

	t0, t1 := s.Time[i-1], s.Time[i]
	h0, h1 := s.HeartRate[i-1], s.HeartRate[i]
	// t0 < t < t1 が保証される
	ratio := (t - t0) / (t1 - t0)
	return roundBPM(h0 + ratio*(h1-h0))
}

// Compute は運動終了時点と終了120秒後の心拍差としてHRR2minを算出する。
// 心拍が上昇した場合は負の値になる。
func Compute(s Stream, elapsed time.Duration) Result {
	if !Eligible(elapsed) {
		return Skipped(SkipTooShort)
	}
	if reason := Validate(s); reason != SkipNone {
		return Skipped(reason)
	}

	end := elapsed.Seconds()
	atEnd := HeartRateAt(s, end)
	afterWindow := HeartRateAt(s, end+RecoveryWindow.Seconds())
	return Derived(atEnd - afterWindow)
}

func roundBPM(v float64) int {
	return int(math.Round(v))
}
