// Package workout はプロバイダーから取得したワークアウト・リカバリーを
// 統一レコードへ冪等に取り込む。
package workout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/repository"
)

// DefaultClassMarker はStravaアクティビティをクラスとして受け入れる名前の目印。
const DefaultClassMarker = "orange"

// Outcome は1件の取り込み結果。
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeSkipped  Outcome = "skipped"
	// OutcomeRejected はレコード単位の不備で取り込まなかったことを示す。Reconcileは返さない。
	OutcomeRejected Outcome = "rejected"
)

var (
	// ErrInvalidSource はソースレコードに識別子または開始時刻が欠けていることを示す。
	ErrInvalidSource = errors.New("source workout requires native id and start time")
	// ErrIdentityOwnedByOtherUser は同じ取り込み元識別子の行が別ユーザーに紐づいていることを示す。
	ErrIdentityOwnedByOtherUser = errors.New("workout identity belongs to another user")
)

// IsRecordError はerrがレコード単位の不備であり、
// そのレコードだけを見送って処理を継続できるかどうかを返す。
func IsRecordError(err error) bool {
	return errors.Is(err, ErrInvalidSource) || errors.Is(err, ErrIdentityOwnedByOtherUser)
}

// SourceWorkout はプロバイダー固有の形式から変換したワークアウト。
// Endが未設定の場合はStart+Elapsedを終了時刻とする。
type SourceWorkout struct {
	Provider model.Provider
	NativeID int64
	Name     string
	Start    time.Time
	End      time.Time
	Elapsed  time.Duration
	AvgHR    *int
	MaxHR    *int
}

// Identity は取り込み元識別子を返す。
func (s SourceWorkout) Identity() model.WorkoutIdentity {
	return model.WorkoutIdentity{Provider: s.Provider, NativeID: s.NativeID}
}

func (s SourceWorkout) end() time.Time {
	if !s.End.IsZero() {
		return s.End
	}
	return s.Start.Add(s.Elapsed)
}

// SourceRecovery はプロバイダーから取得した1日分のリカバリー。
// 日付またはRMSSDが欠けている場合は取り込まない。
type SourceRecovery struct {
	Provider model.Provider
	Date     time.Time
	RMSSD    *float64 // 秒
	RHR      *int
}

// Result はワークアウト取り込み結果。Skippedの場合Workoutはnil。
type Result struct {
	Outcome Outcome
	Workout *model.CanonicalWorkout
}

// Reconciler はワークアウト・リカバリーの同一性判定とUPSERTを行う。
type Reconciler struct {
	workouts repository.WorkoutRepository
	hrv      repository.HrvRepository
	marker   string
	logger   *slog.Logger
	now      func() time.Time
}

// NewReconciler はReconcilerを生成する。markerが空の場合はDefaultClassMarkerを使う。
func NewReconciler(
	workouts repository.WorkoutRepository,
	hrv repository.HrvRepository,
	marker string,
	logger *slog.Logger,
) *Reconciler {
	if marker == "" {
		marker = DefaultClassMarker
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		workouts: workouts,
		hrv:      hrv,
		marker:   strings.ToLower(marker),
		logger:   logger,
		now:      time.Now,
	}
}

// Accepts はワークアウトを取り込み対象とするかどうかを返す。
// Stravaは名前に目印を含むアクティビティのみ対象とし、大文字小文字を区別しない。
func (r *Reconciler) Accepts(src SourceWorkout) bool {
	if src.Provider != model.ProviderStrava {
		return true
	}
	return strings.Contains(strings.ToLower(src.Name), r.marker)
}

// Reconcile はソースワークアウトを(Provider, NativeID)で突き合わせ、
// 既存なら開始・終了時刻と心拍値を上書きし、なければユーザーに紐づけて作成する。
// 既存行のhrr2minは変更しない。
// 識別子または開始時刻がない場合はErrInvalidSource、
// 既存行が別ユーザーのものである場合はErrIdentityOwnedByOtherUserを返し、何も書き込まない。
func (r *Reconciler) Reconcile(ctx context.Context, userID string, src SourceWorkout) (Result, error) {
	if !r.Accepts(src) {
		return Result{Outcome: OutcomeSkipped}, nil
	}
	if src.NativeID == 0 || src.Start.IsZero() {
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidSource, src.Identity().ExternalID())
	}

	identity := src.Identity()
	existing, err := r.workouts.FindByIdentity(ctx, identity)
	if err != nil {
		return Result{}, fmt.Errorf("ワークアウトの同一性判定に失敗: %w", err)
	}

	if existing != nil && existing.UserID != userID {
		return Result{}, fmt.Errorf("%w: %s", ErrIdentityOwnedByOtherUser, identity.ExternalID())
	}

	now := r.now()
	if existing != nil {
		existing.Start = src.Start
		existing.End = src.end()
		existing.AvgHR = src.AvgHR
		existing.MaxHR = src.MaxHR
		existing.UpdatedAt = now
		if err := r.workouts.Update(ctx, existing); err != nil {
			return Result{}, fmt.Errorf("ワークアウトの更新に失敗: %w", err)
		}
		r.logger.Debug("workout updated",
			slog.String("user_id", userID),
			slog.String("workout_id", existing.ID),
			slog.String("external_id", identity.ExternalID()),
		)
		return Result{Outcome: OutcomeUpdated, Workout: existing}, nil
	}

	w := &model.CanonicalWorkout{
		ID:        uuid.New().String(),
		UserID:    userID,
		Identity:  identity,
		Start:     src.Start,
		End:       src.end(),
		AvgHR:     src.AvgHR,
		MaxHR:     src.MaxHR,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.workouts.Create(ctx, w); err != nil {
		return Result{}, fmt.Errorf("ワークアウトの挿入に失敗: %w", err)
	}
	r.logger.Debug("workout inserted",
		slog.String("user_id", userID),
		slog.String("workout_id", w.ID),
		slog.String("external_id", identity.ExternalID()),
	)
	return Result{Outcome: OutcomeInserted, Workout: w}, nil
}

// ReconcileRecovery は(ユーザー, 日付, ソース)をキーに日次HRVレコードをUPSERTする。
// 日付はUTCの暦日に丸める。
func (r *Reconciler) ReconcileRecovery(ctx context.Context, userID string, src SourceRecovery) (Outcome, error) {
	if src.Date.IsZero() || src.RMSSD == nil {
		return OutcomeSkipped, nil
	}

	now := r.now()
	d := src.Date.UTC()
	record := &model.HrvDailyRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		Date:      time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
		RMSSD:     *src.RMSSD,
		RHR:       src.RHR,
		Source:    src.Provider,
		CreatedAt: now,
		UpdatedAt: now,
	}

	inserted, err := r.hrv.Upsert(ctx, record)
	if err != nil {
		return "", fmt.Errorf("リカバリーのUPSERTに失敗: %w", err)
	}
	if inserted {
		return OutcomeInserted, nil
	}
	return OutcomeUpdated, nil
}

// SetHRR は算出したHRR2minをワークアウトに保存する。
func (r *Reconciler) SetHRR(ctx context.Context, workoutID string, value int) error {
	if err := r.workouts.UpdateHRR(ctx, workoutID, value); err != nil {
		return fmt.Errorf("hrr2minの保存に失敗: %w", err)
	}
	return nil
}
