package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/socialhub/internal/linking"
	"github.com/hitoshi/socialhub/internal/middleware"
	"github.com/hitoshi/socialhub/internal/model"
)

const (
	// linkRoutePrefix は連携開始・コールバックのルート接頭辞。
	linkRoutePrefix = "/dashboard/accounts"
	// linkStateCookiePrefix はプラットフォームごとの連携用stateCookie名の接頭辞。
	linkStateCookiePrefix = "link_state_"
)

// LinkServiceInterface は連携ハンドラーが必要とするサービスインターフェース。
type LinkServiceInterface interface {
	// AuthCodeURL はプラットフォームの同意画面URLを返す。
	AuthCodeURL(platform model.Platform, state string) (string, error)
	// Link は認可コードを交換し、見つかった連携対象を保存する。
	Link(ctx context.Context, ownerID string, platform model.Platform, code string) (*linking.Result, error)
}

// StateManager は連携用OAuth stateの発行と検証を行う。
type StateManager interface {
	Issue(ownerID string, platform model.Platform) (string, error)
	Verify(state, ownerID string, platform model.Platform) error
}

// LinkHandlerConfig は連携ハンドラーの設定。
type LinkHandlerConfig struct {
	// AccountsPagePath は連携結果のリダイレクト先（連携アカウント画面）。
	AccountsPagePath string
	Cookie           CookieConfig
	StateMaxAge      int // stateCookieの有効期間（秒）
}

// LinkHandler はSNSアカウント連携（OAuth認可コードフロー）のHTTPハンドラー。
// 結果はすべて連携アカウント画面へのリダイレクトで返す。
type LinkHandler struct {
	service LinkServiceInterface
	states  StateManager
	config  LinkHandlerConfig
}

// NewLinkHandler はLinkHandlerを生成する。
func NewLinkHandler(service LinkServiceInterface, states StateManager, config LinkHandlerConfig) *LinkHandler {
	return &LinkHandler{
		service: service,
		states:  states,
		config:  config,
	}
}

// Connect は連携フローを開始する。署名付きstateをCookieに保存し、同意画面へリダイレクトする。
// GET /dashboard/accounts/{platform}/connect
func (h *LinkHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		h.redirectError(w, r, linking.CodeNotAuthenticated)
		return
	}

	platform, err := model.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		slog.Warn("unsupported platform requested",
			slog.String("user_id", userID),
			slog.String("platform", chi.URLParam(r, "platform")),
		)
		h.redirectError(w, r, linking.CodeUnknown)
		return
	}

	state, err := h.states.Issue(userID, platform)
	if err != nil {
		slog.Error("failed to issue link state",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		h.redirectError(w, r, linking.CodeUnknown)
		return
	}

	consentURL, err := h.service.AuthCodeURL(platform, state)
	if err != nil {
		slog.Warn("link start failed",
			slog.String("user_id", userID),
			slog.String("platform", string(platform)),
			slog.String("error", err.Error()),
		)
		h.redirectError(w, r, linking.CodeOf(err))
		return
	}

	h.config.Cookie.set(w, stateCookieName(platform), state, statePath(platform), h.config.StateMaxAge)
	http.Redirect(w, r, consentURL, http.StatusTemporaryRedirect)
}

// Callback はプラットフォームからのOAuthコールバックを処理する。
// 認証 → code → state → 交換・取得・保存 の順に判定し、最初の失敗でリダイレクトする。
// GET /dashboard/accounts/{platform}/callback?code=&state=&error=
func (h *LinkHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		h.redirectError(w, r, linking.CodeNotAuthenticated)
		return
	}

	platform, err := model.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		h.redirectError(w, r, linking.CodeUnknown)
		return
	}

	code := query.Get("code")
	if code == "" {
		if providerErr := query.Get("error"); providerErr != "" {
			slog.Warn("platform returned authorization error",
				slog.String("user_id", userID),
				slog.String("platform", string(platform)),
				slog.String("provider_error", providerErr),
				slog.String("provider_error_description", query.Get("error_description")),
			)
		}
		h.redirectError(w, r, linking.CodeNoCode)
		return
	}

	if err := h.verifyState(w, r, userID, platform, query.Get("state")); err != nil {
		slog.Warn("link state rejected",
			slog.String("user_id", userID),
			slog.String("platform", string(platform)),
			slog.String("error", err.Error()),
		)
		h.redirectError(w, r, linking.CodeInvalidState)
		return
	}

	result, err := h.service.Link(r.Context(), userID, platform, code)
	if err != nil {
		slog.Error("account linking failed",
			slog.String("user_id", userID),
			slog.String("platform", string(platform)),
			slog.String("code", string(linking.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		h.redirectError(w, r, linking.CodeOf(err))
		return
	}

	saved, failed := result.Saved(), result.Failed()
	slog.Info("account linked",
		slog.String("user_id", userID),
		slog.String("platform", string(platform)),
		slog.Int("linked", saved),
		slog.Int("failed", failed),
	)

	if failed > 0 {
		h.redirect(w, r, fmt.Sprintf("success=partial&linked=%d&failed=%d", saved, failed))
		return
	}
	h.redirect(w, r, fmt.Sprintf("success=true&linked=%d", saved))
}

// verifyState はクエリのstateがCookieの値と一致し、署名・期限・所有者・プラットフォームが正しいことを検証する。
// stateCookieは検証結果にかかわらず削除する。
func (h *LinkHandler) verifyState(w http.ResponseWriter, r *http.Request, userID string, platform model.Platform, state string) error {
	cookie, err := r.Cookie(stateCookieName(platform))
	if err != nil {
		return fmt.Errorf("state cookie not found")
	}
	h.config.Cookie.clear(w, stateCookieName(platform), statePath(platform))

	if state == "" || cookie.Value != state {
		return fmt.Errorf("state does not match cookie")
	}
	return h.states.Verify(state, userID, platform)
}

func (h *LinkHandler) redirectError(w http.ResponseWriter, r *http.Request, code linking.ErrorCode) {
	h.redirect(w, r, "error="+string(code))
}

func (h *LinkHandler) redirect(w http.ResponseWriter, r *http.Request, rawQuery string) {
	http.Redirect(w, r, h.config.AccountsPagePath+"?"+rawQuery, http.StatusTemporaryRedirect)
}

// statePath はstateCookieをコールバックにのみ送るためのパス。
func statePath(platform model.Platform) string {
	return linkRoutePrefix + "/" + string(platform)
}

func stateCookieName(platform model.Platform) string {
	return linkStateCookiePrefix + string(platform)
}
