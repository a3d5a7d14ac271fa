package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/socialhub/internal/linking"
	"github.com/hitoshi/socialhub/internal/model"
)

// AccountServiceInterface は連携アカウント管理ハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	ListAccounts(ctx context.Context, ownerID string) ([]*model.LinkedAccount, error)
	Disconnect(ctx context.Context, ownerID, accountID string) (bool, error)
	Platforms() []linking.PlatformStatus
	LinkWithFacebookToken(ctx context.Context, ownerID, shortLivedToken string) (*linking.Result, error)
}

// AccountHandler は連携アカウント一覧・解除・Facebook SDK連携のHTTPハンドラー。
type AccountHandler struct {
	service AccountServiceInterface
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface) *AccountHandler {
	return &AccountHandler{service: service}
}

// accountResponse は連携アカウントのAPIレスポンス。トークンは含めない。
type accountResponse struct {
	ID                string                `json:"id"`
	Platform          string                `json:"platform"`
	ExternalAccountID string                `json:"external_account_id"`
	DisplayName       string                `json:"display_name"`
	Metadata          model.AccountMetadata `json:"metadata"`
	TokenExpiresAt    *time.Time            `json:"token_expires_at,omitempty"`
	NeedsRelink       bool                  `json:"needs_relink"`
	LinkedAt          time.Time             `json:"linked_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// platformResponse はプラットフォーム状態のAPIレスポンス。
type platformResponse struct {
	Platform string `json:"platform"`
	State    string `json:"state"`
	Error    string `json:"error,omitempty"`
}

// facebookConnectRequest はFacebook SDK連携リクエストのボディ。
// ダッシュボードのSDKは accessToken / userId で送る。access_token も受け付ける。
type facebookConnectRequest struct {
	AccessToken      string `json:"accessToken"`
	AccessTokenSnake string `json:"access_token"`
	UserID           string `json:"userId"`
}

func (r facebookConnectRequest) token() string {
	if r.AccessToken != "" {
		return r.AccessToken
	}
	return r.AccessTokenSnake
}

// entityResultResponse は連携対象1件の保存結果。
type entityResultResponse struct {
	ExternalAccountID string `json:"external_account_id"`
	DisplayName       string `json:"display_name"`
	AccountID         string `json:"account_id,omitempty"`
	Status            string `json:"status"` // inserted, updated, failed
}

// linkResultResponse は連携結果のAPIレスポンス。
type linkResultResponse struct {
	Platform string                 `json:"platform"`
	Linked   int                    `json:"linked"`
	Failed   int                    `json:"failed"`
	Entities []entityResultResponse `json:"entities"`
}

// ListAccounts は連携アカウント一覧を返す。
// GET /api/accounts
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.ListAccounts(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, toAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Disconnect は連携を解除する。存在しない・他人のアカウントも204を返す。
// DELETE /api/accounts/{id}
func (h *AccountHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	accountID := chi.URLParam(r, "id")
	deleted, err := h.service.Disconnect(r.Context(), userID, accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if deleted {
		slog.Info("account disconnected",
			slog.String("user_id", userID),
			slog.String("account_id", accountID),
		)
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListPlatforms はプラットフォームごとの連携可否を返す。
// GET /api/platforms
func (h *AccountHandler) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	statuses := h.service.Platforms()
	resp := make([]platformResponse, 0, len(statuses))
	for _, s := range statuses {
		resp = append(resp, platformResponse{
			Platform: string(s.Platform),
			State:    string(s.State),
			Error:    s.Error,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ConnectFacebook はクライアント側SDKで取得した短期トークンからFacebookページを連携する。
// POST /api/facebook/connect
func (h *AccountHandler) ConnectFacebook(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req facebookConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.token() == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	result, err := h.service.LinkWithFacebookToken(r.Context(), userID, req.token())
	if err != nil {
		slog.Error("facebook sdk linking failed",
			slog.String("user_id", userID),
			slog.String("facebook_user_id", req.UserID),
			slog.String("code", string(linking.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		h.writeLinkError(w, result, err)
		return
	}

	writeJSON(w, http.StatusOK, toLinkResultResponse(result))
}

// writeLinkError は連携失敗をステータスコード付きで返す。
// 保存が全件失敗した場合は結果一覧を付けて500を返す。
func (h *AccountHandler) writeLinkError(w http.ResponseWriter, result *linking.Result, err error) {
	platform := model.PlatformFacebook
	switch linking.CodeOf(err) {
	case linking.CodeNotAuthenticated:
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
	case linking.CodeNoCode:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
	case linking.CodeNoPages, linking.CodeNoProfile:
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNoEntitiesError(platform))
	case linking.CodePlatformUnavailable:
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewPlatformUnavailableError(platform))
	case linking.CodeStorageFailed:
		if result != nil {
			writeJSON(w, http.StatusInternalServerError, toLinkResultResponse(result))
			return
		}
		handleServiceError(w, err)
	default:
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewLinkFailedError(platform))
	}
}

func toAccountResponse(a *model.LinkedAccount) accountResponse {
	metadata := a.Metadata
	if metadata == nil {
		metadata = model.AccountMetadata{}
	}
	return accountResponse{
		ID:                a.ID,
		Platform:          string(a.Platform),
		ExternalAccountID: a.ExternalAccountID,
		DisplayName:       a.DisplayName,
		Metadata:          metadata,
		TokenExpiresAt:    a.TokenExpiresAt,
		NeedsRelink:       a.NeedsRelink(),
		LinkedAt:          a.LinkedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func toLinkResultResponse(result *linking.Result) linkResultResponse {
	resp := linkResultResponse{
		Platform: string(result.Platform),
		Linked:   result.Saved(),
		Failed:   result.Failed(),
		Entities: make([]entityResultResponse, 0, len(result.Entities)),
	}
	for _, e := range result.Entities {
		status := "updated"
		switch {
		case !e.OK():
			status = "failed"
		case e.Inserted:
			status = "inserted"
		}
		resp.Entities = append(resp.Entities, entityResultResponse{
			ExternalAccountID: e.ExternalAccountID,
			DisplayName:       e.DisplayName,
			AccountID:         e.AccountID,
			Status:            status,
		})
	}
	return resp
}
