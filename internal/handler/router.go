package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/socialhub/internal/middleware"
)

// healthCheckTimeout は/healthでのDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// Pinger はヘルスチェックに必要なDB疎通確認のインターフェース。*sql.DBが実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 運用
	Logger          *slog.Logger // nilの場合はslog.Default()
	DB              Pinger
	MetricsHandler  http.Handler
	StrictTransport bool // HSTSを付与する

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// アカウント連携
	LinkService    LinkServiceInterface
	StateManager   StateManager
	LinkConfig     LinkHandlerConfig
	AccountService AccountServiceInterface

	// 予約投稿
	PostService PostServiceInterface

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → Session → RateLimit(General) → CSRF
//
// 認証ルート（/auth/*）と連携コールバックはSessionの必須チェックの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.StrictTransport))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	linkHandler := NewLinkHandler(deps.LinkService, deps.StateManager, deps.LinkConfig)
	accountHandler := NewAccountHandler(deps.AccountService)
	postHandler := NewPostHandler(deps.PostService)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig.Cookie)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// サインイン（Google OAuth）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// 連携コールバック: 未認証でもハンドラーがnot_authenticatedへリダイレクトする
	r.With(middleware.NewOptionalSessionMiddleware(deps.SessionFinder)).
		Get("/dashboard/accounts/{platform}/callback", linkHandler.Callback)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))

		// 連携開始（連携専用レート制限）
		r.With(deps.RateLimiter.LinkMiddleware()).
			Get("/dashboard/accounts/{platform}/connect", linkHandler.Connect)

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

			r.Get("/api/platforms", accountHandler.ListPlatforms)

			r.Route("/api/accounts", func(r chi.Router) {
				r.Get("/", accountHandler.ListAccounts)
				r.Delete("/{id}", accountHandler.Disconnect)
			})

			r.With(deps.RateLimiter.LinkMiddleware()).
				Post("/api/facebook/connect", accountHandler.ConnectFacebook)

			r.Route("/api/posts", func(r chi.Router) {
				r.Get("/", postHandler.ListPosts)
				r.Post("/", postHandler.CreatePost)
				r.Patch("/{id}", postHandler.UpdatePost)
				r.Delete("/{id}", postHandler.DeletePost)
			})

			r.Delete("/api/users/me", userHandler.Withdraw)
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
