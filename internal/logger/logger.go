// Package logger はslogベースの構造化ログを設定する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ログ出力形式。
const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// New は指定形式のslog.Loggerを生成する。
// prettyはローカル開発向けの色付き出力、それ以外はJSON。
func New(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, FormatPretty) {
		return slog.New(NewPrettyHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	SetupDefaultWithFormat(w, FormatJSON)
}

// SetupDefaultWithFormat は指定形式のロガーをグローバルロガーとして設定する。
// prettyの場合はデバッグレベルまで出力する。
func SetupDefaultWithFormat(w io.Writer, format string) {
	if w == nil {
		w = os.Stdout
	}
	level := slog.LevelInfo
	if strings.EqualFold(format, FormatPretty) {
		level = slog.LevelDebug
	}
	slog.SetDefault(New(w, format, level))
}
