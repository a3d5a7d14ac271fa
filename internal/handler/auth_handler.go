// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/socialhub/internal/model"
)

const (
	sessionCookieName = "session_id"
	loginStateCookie  = "login_state"

	// loginStatePath はstateCookieをサインインのルートにのみ送るためのパス。
	loginStatePath = "/auth/google"
	// loginStateMaxAge はサインイン用stateCookieの有効期間（秒）。
	loginStateMaxAge = 600
)

// サインイン失敗時にBaseURLへ付与するauth_errorの値。
const (
	authErrorDenied       = "denied"
	authErrorInvalidState = "invalid_state"
	authErrorNoCode       = "no_code"
	authErrorFailed       = "failed"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL string
	// AfterLoginPath はサインイン完了後のBaseURLからの遷移先パス。
	AfterLoginPath string
	Cookie         CookieConfig
	SessionMaxAge  int // 秒
}

// AuthHandler はダッシュボードへのサインイン（Google OAuth）のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{service: service, config: config}
}

// stateCookie はサインイン用stateのCookie属性。ドメインは指定しない。
func (h *AuthHandler) stateCookie() CookieConfig {
	return CookieConfig{Secure: h.config.Cookie.Secure}
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := randomHex(16)
	if err != nil {
		slog.Error("failed to generate login state", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
		return
	}

	h.stateCookie().set(w, loginStateCookie, state, loginStatePath, loginStateMaxAge)
	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はGoogle OAuthコールバックを処理し、セッションCookieを発行する。
// 失敗時はBaseURLへauth_error付きでリダイレクトする。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	cookie, cookieErr := r.Cookie(loginStateCookie)
	h.stateCookie().clear(w, loginStateCookie, loginStatePath)

	if q.Get("error") != "" {
		slog.Info("sign-in denied at provider", slog.String("error", q.Get("error")))
		h.redirectAuthError(w, r, authErrorDenied)
		return
	}
	state := q.Get("state")
	if cookieErr != nil || state == "" || cookie.Value != state {
		slog.Warn("login state mismatch", slog.String("path", r.URL.Path))
		h.redirectAuthError(w, r, authErrorInvalidState)
		return
	}
	code := q.Get("code")
	if code == "" {
		h.redirectAuthError(w, r, authErrorNoCode)
		return
	}

	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("sign-in callback failed", slog.String("error", err.Error()))
		h.redirectAuthError(w, r, authErrorFailed)
		return
	}

	h.config.Cookie.set(w, sessionCookieName, session.ID, "/", h.config.SessionMaxAge)
	http.Redirect(w, r, h.config.BaseURL+h.config.AfterLoginPath, http.StatusTemporaryRedirect)
}

func (h *AuthHandler) redirectAuthError(w http.ResponseWriter, r *http.Request, code string) {
	target := h.config.BaseURL + "/?" + url.Values{"auth_error": {code}}.Encode()
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄してBaseURLへ戻す。
// サービス側の削除に失敗してもCookieはクリアする。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID := sessionCookieValue(r); sessionID != "" {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	h.config.Cookie.clear(w, sessionCookieName, "/")
	http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
}

type meResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionCookieValue(r)
	if sessionID == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), sessionID)
	if err != nil || user == nil {
		if err != nil {
			slog.Warn("failed to get current user", slog.String("error", err.Error()))
		}
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, meResponse{ID: user.ID, Email: user.Email, Name: user.Name})
}

func sessionCookieValue(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// randomHex はnバイトの乱数を16進文字列で返す。
func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
