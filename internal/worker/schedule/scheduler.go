// Package schedule は同期処理をcron式に従って定期実行するワーカーを提供する。
package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/fitsync/internal/orchestrator"
	"github.com/robfig/cron/v3"
)

// SyncRunner は同期実行のインターフェース。
type SyncRunner interface {
	Run(ctx context.Context) *orchestrator.Report
}

// Scheduler はcron式に従って同期を実行する。
// 前回の実行が終わっていない場合、その回はスキップする。
type Scheduler struct {
	runner   SyncRunner
	logger   *slog.Logger
	spec     string
	schedule cron.Schedule
}

// NewScheduler はSchedulerを生成する。specが不正な場合はエラーを返す。
// specは5フィールドのcron式または"@every 1h"などの記述子。
func NewScheduler(runner SyncRunner, spec string, logger *slog.Logger) (*Scheduler, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{runner: runner, logger: logger, spec: spec, schedule: sched}, nil
}

// Start はスケジューラを起動し、コンテキストがキャンセルされるまで実行を継続する。
// 起動直後に1回実行する。停止時は実行中の同期の完了を待つ。
func (s *Scheduler) Start(ctx context.Context) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.RunOnce(ctx) }))

	s.logger.Info("同期スケジューラを開始しました", slog.String("schedule", s.spec))

	s.RunOnce(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("同期スケジューラを停止しました")
}

// RunOnce は同期を1回実行し、レポートを返す。
func (s *Scheduler) RunOnce(ctx context.Context) *orchestrator.Report {
	if ctx.Err() != nil {
		return nil
	}
	report := s.runner.Run(ctx)
	if !report.OK {
		s.logger.Error("同期サイクルの実行に失敗しました", slog.String("error", report.Error))
		return report
	}
	s.logger.Info("同期サイクルが完了しました",
		slog.Int("user_count", len(report.Results)),
		slog.Int("failed_users", report.FailedUsers()),
		slog.Int64("duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds()),
	)
	return report
}
