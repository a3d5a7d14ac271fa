package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// quietPaths はヘルスチェックやスクレイプのように定期的に叩かれるパス。
// 成功時はDebugで記録する。
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// accessLog は後段のミドルウェアで判明した値をアクセスログへ引き渡す。
type accessLog struct {
	userID string
}

var accessLogKey = contextKey("access_log")

// recordUserID はセッション検証で判明したユーザーIDをアクセスログ用に記録する。
func recordUserID(ctx context.Context, userID string) {
	if al, ok := ctx.Value(accessLogKey).(*accessLog); ok {
		al.userID = userID
	}
}

// NewLoggingMiddleware はリクエストごとに構造化アクセスログを1行出力するミドルウェアを返す。
// 5xxはError、4xxはWarnで記録する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			al := &accessLog{}

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), accessLogKey, al)))

			status := ww.Status()
			if status == 0 {
				// 何も書き込まずに返ったハンドラーはnet/httpが200を返す
				status = http.StatusOK
			}

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if userID := al.userID; userID != "" {
				attrs = append(attrs, slog.String("user_id", userID))
			} else if userID, err := UserIDFromContext(r.Context()); err == nil {
				attrs = append(attrs, slog.String("user_id", userID))
			}
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				attrs = append(attrs, slog.String("request_id", reqID))
			}

			logger.Log(r.Context(), accessLogLevel(r.URL.Path, status), "http_request", attrs...)
		})
	}
}

func accessLogLevel(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case quietPaths[path]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
