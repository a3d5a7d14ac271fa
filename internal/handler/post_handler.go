package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/socialhub/internal/model"
	"github.com/hitoshi/socialhub/internal/post"
)

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	Create(ctx context.Context, ownerID string, in post.CreateInput) (*model.Post, error)
	List(ctx context.Context, ownerID string, from, to time.Time) ([]model.PostWithAccount, error)
	Update(ctx context.Context, ownerID, postID string, in post.UpdateInput) (*model.Post, error)
	Delete(ctx context.Context, ownerID, postID string) error
}

// PostHandler は予約投稿のHTTPハンドラー。
type PostHandler struct {
	service PostServiceInterface
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface) *PostHandler {
	return &PostHandler{service: service}
}

// createPostRequest は投稿作成リクエストのボディ。
type createPostRequest struct {
	LinkedAccountID string     `json:"linked_account_id"`
	Content         string     `json:"content"`
	MediaURLs       []string   `json:"media_urls"`
	Status          string     `json:"status"`
	ScheduledFor    *time.Time `json:"scheduled_for"`
}

// updatePostRequest は投稿更新リクエストのボディ。省略したフィールドは変更しない。
type updatePostRequest struct {
	Content      *string    `json:"content"`
	MediaURLs    *[]string  `json:"media_urls"`
	Status       *string    `json:"status"`
	ScheduledFor *time.Time `json:"scheduled_for"`
}

// postResponse は投稿のAPIレスポンス。
type postResponse struct {
	ID              string     `json:"id"`
	LinkedAccountID string     `json:"linked_account_id"`
	Platform        string     `json:"platform,omitempty"`
	AccountName     string     `json:"account_name,omitempty"`
	Content         string     `json:"content"`
	MediaURLs       []string   `json:"media_urls"`
	Status          string     `json:"status"`
	ScheduledFor    *time.Time `json:"scheduled_for"`
	PublishedAt     *time.Time `json:"published_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CreatePost は投稿を作成する。
// POST /api/posts
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	p, err := h.service.Create(r.Context(), userID, post.CreateInput{
		LinkedAccountID: req.LinkedAccountID,
		Content:         req.Content,
		MediaURLs:       req.MediaURLs,
		Status:          model.PostStatus(req.Status),
		ScheduledFor:    req.ScheduledFor,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPostResponse(p))
}

// ListPosts は期間内の投稿一覧を返す。from/toはRFC3339形式で省略可。
// GET /api/posts?from=&to=
func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidScheduleError("from はRFC3339形式で指定してください"))
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidScheduleError("to はRFC3339形式で指定してください"))
		return
	}

	posts, err := h.service.List(r.Context(), userID, from, to)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]postResponse, 0, len(posts))
	for i := range posts {
		pr := toPostResponse(&posts[i].Post)
		pr.Platform = string(posts[i].Platform)
		pr.AccountName = posts[i].AccountName
		resp = append(resp, pr)
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdatePost は投稿の本文・メディア・予約日時・状態を更新する。
// PATCH /api/posts/{id}
func (h *PostHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	in := post.UpdateInput{
		Content:      req.Content,
		MediaURLs:    req.MediaURLs,
		ScheduledFor: req.ScheduledFor,
	}
	if req.Status != nil {
		status := model.PostStatus(*req.Status)
		in.Status = &status
	}

	p, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPostResponse(p))
}

// DeletePost は投稿を削除する。存在しない場合も204を返す。
// DELETE /api/posts/{id}
func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toPostResponse(p *model.Post) postResponse {
	media := p.MediaURLs
	if media == nil {
		media = []string{}
	}
	return postResponse{
		ID:              p.ID,
		LinkedAccountID: p.LinkedAccountID,
		Content:         p.Content,
		MediaURLs:       media,
		Status:          string(p.Status),
		ScheduledFor:    p.ScheduledFor,
		PublishedAt:     p.PublishedAt,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// parseTimeParam はRFC3339形式のクエリパラメータを解析する。未指定はゼロ値。
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
