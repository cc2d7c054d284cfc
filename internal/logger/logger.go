// Package logger はJSON構造化ログの初期化を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Setup は指定レベル以上を出力するJSON構造化ログのslog.Loggerを生成して返す。
func Setup(w io.Writer, level slog.Leveler) *slog.Logger {
	if level == nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定し、設定したロガーを返す。
// wがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	l := Setup(w, level)
	slog.SetDefault(l)
	return l
}
