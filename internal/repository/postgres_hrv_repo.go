package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/fitsync/internal/model"
)

// PostgresHrvRepo はPostgreSQLを使用した日次HRVリポジトリ。
type PostgresHrvRepo struct {
	db *sql.DB
}

// NewPostgresHrvRepo はPostgresHrvRepoを生成する。
func NewPostgresHrvRepo(db *sql.DB) *PostgresHrvRepo {
	return &PostgresHrvRepo{db: db}
}

// Upsert は(user_id, date, source)をキーにレコードを作成または上書きする。
// xmax = 0 の判定で新規作成か更新かを区別する。
func (r *PostgresHrvRepo) Upsert(ctx context.Context, rec *model.HrvDailyRecord) (bool, error) {
	var inserted bool
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO hrv_daily (id, user_id, date, rmssd, rhr, source, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (user_id, date, source) DO UPDATE SET
		     rmssd      = EXCLUDED.rmssd,
		     rhr        = EXCLUDED.rhr,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, (xmax = 0)`,
		rec.ID, rec.UserID, rec.Date, rec.RMSSD, nullInt(rec.RHR), string(rec.Source), rec.UpdatedAt,
	).Scan(&rec.ID, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert hrv record: %w", err)
	}
	return inserted, nil
}

// nullInt はnil許容のintをSQLパラメータに変換する。
func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// nullIntPtr はNULL許容カラムの値を*intに変換する。NULLの場合はnilを返す。
func nullIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// compile-time interface check
var _ HrvRepository = (*PostgresHrvRepo)(nil)
