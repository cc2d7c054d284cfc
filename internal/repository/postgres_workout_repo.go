package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/fitsync/internal/model"
)

// PostgresWorkoutRepo はPostgreSQLを使用したワークアウトリポジトリ。
type PostgresWorkoutRepo struct {
	db *sql.DB
}

// NewPostgresWorkoutRepo はPostgresWorkoutRepoを生成する。
func NewPostgresWorkoutRepo(db *sql.DB) *PostgresWorkoutRepo {
	return &PostgresWorkoutRepo{db: db}
}

// FindByIdentity は(source_provider, source_id)でワークアウトを検索する。見つからない場合はnilを返す。
func (r *PostgresWorkoutRepo) FindByIdentity(ctx context.Context, identity model.WorkoutIdentity) (*model.CanonicalWorkout, error) {
	w := &model.CanonicalWorkout{}
	var provider string
	var avgHR, maxHR, hrr sql.NullInt64

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, source_provider, source_id, start_time, end_time,
		        avg_hr, max_hr, hrr2min, created_at, updated_at
		 FROM workouts WHERE source_provider = $1 AND source_id = $2`,
		string(identity.Provider), identity.NativeID,
	).Scan(
		&w.ID, &w.UserID, &provider, &w.Identity.NativeID, &w.Start, &w.End,
		&avgHR, &maxHR, &hrr, &w.CreatedAt, &w.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ワークアウトの検索に失敗しました: %w", err)
	}

	w.Identity.Provider = model.Provider(provider)
	w.AvgHR = nullIntPtr(avgHR)
	w.MaxHR = nullIntPtr(maxHR)
	w.HRR2Min = nullIntPtr(hrr)
	return w, nil
}

// Create はワークアウトを作成する。
func (r *PostgresWorkoutRepo) Create(ctx context.Context, w *model.CanonicalWorkout) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO workouts
		     (id, user_id, source_provider, source_id, start_time, end_time,
		      avg_hr, max_hr, hrr2min, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.ID, w.UserID, string(w.Identity.Provider), w.Identity.NativeID, w.Start, w.End,
		nullInt(w.AvgHR), nullInt(w.MaxHR), nullInt(w.HRR2Min), w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ワークアウトの作成に失敗しました: %w", err)
	}
	return nil
}

// Update は既存ワークアウトの開始・終了時刻と心拍値を上書きする。
func (r *PostgresWorkoutRepo) Update(ctx context.Context, w *model.CanonicalWorkout) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE workouts
		 SET start_time = $1, end_time = $2, avg_hr = $3, max_hr = $4, updated_at = $5
		 WHERE id = $6`,
		w.Start, w.End, nullInt(w.AvgHR), nullInt(w.MaxHR), w.UpdatedAt, w.ID,
	)
	if err != nil {
		return fmt.Errorf("ワークアウトの更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateHRR はワークアウトのhrr2minを更新する。
func (r *PostgresWorkoutRepo) UpdateHRR(ctx context.Context, workoutID string, value int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE workouts SET hrr2min = $1, updated_at = now() WHERE id = $2`,
		value, workoutID,
	)
	if err != nil {
		return fmt.Errorf("hrr2minの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("workout not found: %s", workoutID)
	}
	return nil
}

// compile-time interface check
var _ WorkoutRepository = (*PostgresWorkoutRepo)(nil)
