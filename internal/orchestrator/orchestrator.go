// Package orchestrator は連携済みユーザー全員の同期実行を制御する。
// ユーザーは1人ずつ順に処理し、プロバイダーごとに
// トークン取得、データ取得、取り込み、HRR算出を行う。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hitoshi/fitsync/internal/hrr"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/provider/otf"
	"github.com/hitoshi/fitsync/internal/provider/strava"
	"github.com/hitoshi/fitsync/internal/provider/whoop"
	"github.com/hitoshi/fitsync/internal/repository"
	"github.com/hitoshi/fitsync/internal/workout"
)

// TokenSource は有効なアクセストークンを払い出す。
type TokenSource interface {
	AccessToken(ctx context.Context, userID string, p model.Provider) (string, error)
}

// WhoopAPI はウェアラブルAPIのデータ取得インターフェース。
type WhoopAPI interface {
	FetchRange(ctx context.Context, accessToken string, start, end time.Time) (*whoop.Range, error)
}

// StravaAPI はアクティビティAPIのデータ取得インターフェース。
type StravaAPI interface {
	ListActivities(ctx context.Context, accessToken string, afterUnix int64) ([]strava.Activity, error)
	GetStreams(ctx context.Context, accessToken string, activityID int64, keys []string) (strava.Streams, error)
}

// ClassAPI はクラス予約サイトのデータ取得インターフェース。
type ClassAPI interface {
	FetchRecentClasses(ctx context.Context, username, password string) ([]otf.ClassRecord, error)
}

// Decrypter は保存済み認証情報を復号する。
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Recorder は同期処理のメトリクスを記録する。
type Recorder interface {
	RecordSyncRun(duration time.Duration)
	RecordUserFailure()
	RecordProviderError(provider model.Provider, kind model.ErrorKind)
	RecordWorkoutUpserted(provider model.Provider, outcome string)
	RecordHRR(outcome string)
}

// ErrVaultUnavailable は暗号鍵が未設定でクラス予約サイトの認証情報を復号できないことを示す。
var ErrVaultUnavailable = errors.New("credential vault is not configured")

// Deps はOrchestratorの依存関係。未連携・未設定のプロバイダーはnilでよい。
type Deps struct {
	Users       repository.UserRepository
	Credentials repository.ClassCredentialRepository
	Tokens      TokenSource
	Reconciler  *workout.Reconciler
	Whoop       WhoopAPI
	Strava      StravaAPI
	Classes     ClassAPI
	Vault       Decrypter
	Recorder    Recorder
	Logger      *slog.Logger
}

// Orchestrator は同期実行を行う。
// 同時に実行されるのは1回だけで、後から来た実行は先行実行の完了を待つ。
type Orchestrator struct {
	deps Deps
	mu   sync.Mutex
	now  func() time.Time
}

// New はOrchestratorを生成する。
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{deps: deps, now: time.Now}
}

// Run は連携済みユーザー全員を同期し、結果のレポートを返す。
// 個々のユーザーやプロバイダーの失敗はレポートに記録し、実行自体は常に完了する。
// ctxが途中でキャンセルされた場合は残りのユーザーを処理せず、OKをfalseにする。
func (o *Orchestrator) Run(ctx context.Context) *Report {
	o.mu.Lock()
	defer o.mu.Unlock()

	started := o.now()
	window := NewWindow(started)
	report := &Report{StartedAt: started, Results: []UserResult{}}
	logger := o.deps.Logger

	logger.Info("同期を開始します",
		slog.Time("window_start", window.Start),
		slog.Time("window_end", window.End),
	)

	users, err := o.deps.Users.ListWithLinkedProviders(ctx)
	if err != nil {
		logger.Error("同期対象ユーザーの取得に失敗しました", slog.String("error", err.Error()))
		report.Error = fmt.Sprintf("failed to list users: %v", err)
		report.FinishedAt = o.now()
		o.recordRun(report)
		return report
	}

	for i, u := range users {
		if err := ctx.Err(); err != nil {
			report.Error = fmt.Sprintf("sync cancelled: %d of %d users not processed: %v", len(users)-i, len(users), err)
			logger.Warn("同期が中断されました",
				slog.Int("processed", i),
				slog.Int("remaining", len(users)-i),
				slog.String("error", err.Error()),
			)
			break
		}
		report.Results = append(report.Results, o.syncUser(ctx, u, window))
	}

	report.OK = report.Error == ""
	report.FinishedAt = o.now()
	o.recordRun(report)

	logger.Info("同期が完了しました",
		slog.Int("user_count", len(report.Results)),
		slog.Int("failed_users", report.FailedUsers()),
		slog.Int64("duration_ms", report.FinishedAt.Sub(started).Milliseconds()),
	)
	return report
}

func (o *Orchestrator) recordRun(report *Report) {
	if o.deps.Recorder != nil {
		o.deps.Recorder.RecordSyncRun(report.FinishedAt.Sub(report.StartedAt))
	}
}

// syncUser はユーザー1人分を処理する。
// プロバイダーエラーはそのプロバイダーだけを打ち切り、永続化エラーはユーザー全体を打ち切る。
// レコード単位の不備はそのレコードだけを見送る。
func (o *Orchestrator) syncUser(ctx context.Context, u *model.LinkedUser, window Window) UserResult {
	result := UserResult{UserID: u.ID, Email: u.Email}
	logger := o.deps.Logger.With(slog.String("user_id", u.ID))

	attempted, failed := 0, 0
	for _, p := range []model.Provider{model.ProviderWhoop, model.ProviderStrava, model.ProviderOTF} {
		if !u.Has(p) {
			continue
		}
		attempted++

		var err error
		switch p {
		case model.ProviderWhoop:
			err = o.syncWhoop(ctx, u.ID, window, &result)
		case model.ProviderStrava:
			err = o.syncStrava(ctx, u.ID, window, &result)
		case model.ProviderOTF:
			err = o.syncClasses(ctx, u.ID, &result)
		}
		if err == nil {
			continue
		}

		if pe, ok := model.AsProviderError(err); ok {
			failed++
			result.addProviderError(p, err)
			o.recordProviderError(p, pe.Kind)
			logger.Warn("プロバイダーの同期に失敗しました",
				slog.String("provider", string(p)),
				slog.String("kind", string(pe.Kind)),
				slog.String("error", err.Error()),
			)
			continue
		}

		result.Error = err.Error()
		o.recordUserFailure()
		logger.Error("ユーザーの同期を中断しました",
			slog.String("provider", string(p)),
			slog.String("error", err.Error()),
		)
		return result
	}

	if attempted > 0 && failed == attempted {
		result.Error = "all linked providers failed"
		o.recordUserFailure()
	}
	return result
}

func (o *Orchestrator) syncWhoop(ctx context.Context, userID string, window Window, result *UserResult) error {
	if o.deps.Whoop == nil {
		return notConfigured(model.ProviderWhoop)
	}
	accessToken, err := o.accessToken(ctx, userID, model.ProviderWhoop)
	if err != nil {
		return err
	}

	data, err := o.deps.Whoop.FetchRange(ctx, accessToken, window.Start, window.End)
	if err != nil {
		return err
	}

	for _, w := range data.Workouts {
		src := workout.SourceWorkout{
			Provider: model.ProviderWhoop,
			NativeID: w.ID,
			Start:    w.Start,
			End:      w.End,
		}
		if w.Score != nil {
			src.AvgHR = w.Score.AverageHeartRate
			src.MaxHR = w.Score.MaxHeartRate
		}
		res, err := o.deps.Reconciler.Reconcile(ctx, userID, src)
		if workout.IsRecordError(err) {
			o.rejectRecord(userID, model.ProviderWhoop, w.ID, err, result)
			continue
		}
		if err != nil {
			return err
		}
		o.recordWorkout(model.ProviderWhoop, res.Outcome)
		switch res.Outcome {
		case workout.OutcomeInserted:
			result.WorkoutsImported++
		case workout.OutcomeUpdated:
			result.WorkoutsUpdated++
		}
	}

	for _, r := range data.Recoveries {
		src := workout.SourceRecovery{
			Provider: model.ProviderWhoop,
			Date:     whoop.RecoveryDate(r, data.Sleeps),
		}
		if r.Score != nil {
			if r.Score.HRVRmssdMilli != nil {
				seconds := *r.Score.HRVRmssdMilli / 1000
				src.RMSSD = &seconds
			}
			src.RHR = roundPtr(r.Score.RestingHeartRate)
		}
		outcome, err := o.deps.Reconciler.ReconcileRecovery(ctx, userID, src)
		if err != nil {
			return err
		}
		switch outcome {
		case workout.OutcomeInserted:
			result.RecoveryImported++
		case workout.OutcomeUpdated:
			result.RecoveryUpdated++
		}
	}
	return nil
}

func (o *Orchestrator) syncStrava(ctx context.Context, userID string, window Window, result *UserResult) error {
	if o.deps.Strava == nil {
		return notConfigured(model.ProviderStrava)
	}
	accessToken, err := o.accessToken(ctx, userID, model.ProviderStrava)
	if err != nil {
		return err
	}

	activities, err := o.deps.Strava.ListActivities(ctx, accessToken, window.After)
	if err != nil {
		return err
	}

	for _, a := range activities {
		res, err := o.deps.Reconciler.Reconcile(ctx, userID, workout.SourceWorkout{
			Provider: model.ProviderStrava,
			NativeID: a.ID,
			Name:     a.Name,
			Start:    a.StartDate,
			Elapsed:  a.Elapsed(),
			AvgHR:    roundPtr(a.AverageHeartrate),
			MaxHR:    roundPtr(a.MaxHeartrate),
		})
		if workout.IsRecordError(err) {
			o.rejectRecord(userID, model.ProviderStrava, a.ID, err, result)
			continue
		}
		if err != nil {
			return err
		}
		if res.Outcome == workout.OutcomeSkipped {
			continue
		}
		o.recordWorkout(model.ProviderStrava, res.Outcome)
		result.ClassImports++

		derived, err := o.deriveHRR(ctx, accessToken, a, res.Workout)
		if err != nil {
			return err
		}
		if derived.Ok() {
			result.HRRDerived++
			o.recordHRR("derived")
		} else {
			result.HRRSkipped++
			o.recordHRR("skipped")
		}
	}
	return nil
}

// deriveHRR はアクティビティのストリームからHRR2minを算出して保存する。
// ストリーム取得の失敗は見送りとして扱い、保存の失敗のみエラーを返す。
func (o *Orchestrator) deriveHRR(ctx context.Context, accessToken string, a strava.Activity, w *model.CanonicalWorkout) (hrr.Result, error) {
	if !hrr.Eligible(a.Elapsed()) {
		return hrr.Skipped(hrr.SkipTooShort), nil
	}

	streams, err := o.deps.Strava.GetStreams(ctx, accessToken, a.ID, strava.StreamKeys)
	if err != nil {
		o.deps.Logger.Warn("ストリームの取得に失敗したためHRR算出を見送ります",
			slog.String("workout_id", w.ID),
			slog.Int64("activity_id", a.ID),
			slog.String("error", err.Error()),
		)
		return hrr.Skipped(hrr.SkipFetchFailed), nil
	}

	res := hrr.Compute(hrr.Stream{
		Time:      streams.Series("time"),
		HeartRate: streams.Series("heartrate"),
	}, a.Elapsed())
	if !res.Ok() {
		o.deps.Logger.Debug("HRR算出を見送りました",
			slog.String("workout_id", w.ID),
			slog.String("reason", string(res.Reason)),
		)
		return res, nil
	}

	if err := o.deps.Reconciler.SetHRR(ctx, w.ID, res.Value); err != nil {
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) syncClasses(ctx context.Context, userID string, result *UserResult) error {
	if o.deps.Classes == nil || o.deps.Credentials == nil {
		return notConfigured(model.ProviderOTF)
	}

	cred, err := o.deps.Credentials.Find(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load class credentials: %w", err)
	}
	if cred == nil {
		return nil
	}

	username, password, err := o.decryptCredential(cred)
	if err != nil {
		return &model.ProviderError{Provider: model.ProviderOTF, Op: "decrypt_credentials", Kind: model.ErrorKindAuth, Err: err}
	}

	classes, err := o.deps.Classes.FetchRecentClasses(ctx, username, password)
	if err != nil {
		return err
	}

	for _, c := range classes {
		res, err := o.deps.Reconciler.Reconcile(ctx, userID, workout.SourceWorkout{
			Provider: model.ProviderOTF,
			NativeID: c.ID,
			Start:    c.Start,
			End:      c.End,
			AvgHR:    c.AvgHR,
			MaxHR:    c.MaxHR,
		})
		if workout.IsRecordError(err) {
			o.rejectRecord(userID, model.ProviderOTF, c.ID, err, result)
			continue
		}
		if err != nil {
			return err
		}
		if res.Outcome == workout.OutcomeSkipped {
			continue
		}
		o.recordWorkout(model.ProviderOTF, res.Outcome)
		result.ClassImports++
	}
	return nil
}

func (o *Orchestrator) decryptCredential(cred *model.ClassCredential) (string, string, error) {
	if o.deps.Vault == nil {
		return "", "", ErrVaultUnavailable
	}
	username, err := o.deps.Vault.Decrypt(cred.UsernameCipher)
	if err != nil {
		return "", "", fmt.Errorf("failed to decrypt username: %w", err)
	}
	password, err := o.deps.Vault.Decrypt(cred.PasswordCipher)
	if err != nil {
		return "", "", fmt.Errorf("failed to decrypt password: %w", err)
	}
	return username, password, nil
}

// accessToken はトークンを取得する。未連携は認可エラーとして扱う。
func (o *Orchestrator) accessToken(ctx context.Context, userID string, p model.Provider) (string, error) {
	tok, err := o.deps.Tokens.AccessToken(ctx, userID, p)
	if errors.Is(err, model.ErrTokenNotLinked) {
		return "", &model.ProviderError{Provider: p, Op: "access_token", Kind: model.ErrorKindAuth, Err: err}
	}
	return tok, err
}

// rejectRecord は不備のあるレコード1件を見送り、同じプロバイダーの残りの処理を続ける。
func (o *Orchestrator) rejectRecord(userID string, p model.Provider, nativeID int64, err error, result *UserResult) {
	result.RecordsRejected++
	o.recordWorkout(p, workout.OutcomeRejected)
	o.deps.Logger.Warn("不備のあるレコードを見送りました",
		slog.String("user_id", userID),
		slog.String("provider", string(p)),
		slog.Int64("native_id", nativeID),
		slog.String("error", err.Error()),
	)
}

func notConfigured(p model.Provider) error {
	return &model.ProviderError{Provider: p, Op: "sync", Kind: model.ErrorKindTransport, Err: errors.New("provider client is not configured")}
}

func (o *Orchestrator) recordProviderError(p model.Provider, kind model.ErrorKind) {
	if o.deps.Recorder != nil {
		o.deps.Recorder.RecordProviderError(p, kind)
	}
}

func (o *Orchestrator) recordUserFailure() {
	if o.deps.Recorder != nil {
		o.deps.Recorder.RecordUserFailure()
	}
}

func (o *Orchestrator) recordWorkout(p model.Provider, outcome workout.Outcome) {
	if o.deps.Recorder != nil {
		o.deps.Recorder.RecordWorkoutUpserted(p, string(outcome))
	}
}

func (o *Orchestrator) recordHRR(outcome string) {
	if o.deps.Recorder != nil {
		o.deps.Recorder.RecordHRR(outcome)
	}
}

func roundPtr(v *float64) *int {
	if v == nil {
		return nil
	}
	r := int(math.Round(*v))
	return &r
}
