package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/socialhub/internal/linking"
	"github.com/hitoshi/socialhub/internal/middleware"
	"github.com/hitoshi/socialhub/internal/model"
	"github.com/hitoshi/socialhub/internal/post"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	getCurrentUserFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, sessionID)
	}
	return nil, nil
}

type mockLinkService struct {
	authCodeURLFn func(platform model.Platform, state string) (string, error)
	linkFn        func(ctx context.Context, ownerID string, platform model.Platform, code string) (*linking.Result, error)
	linkCalls     int
}

func (m *mockLinkService) AuthCodeURL(platform model.Platform, state string) (string, error) {
	if m.authCodeURLFn != nil {
		return m.authCodeURLFn(platform, state)
	}
	return "https://consent.example.com/" + string(platform) + "?state=" + state, nil
}

func (m *mockLinkService) Link(ctx context.Context, ownerID string, platform model.Platform, code string) (*linking.Result, error) {
	m.linkCalls++
	if m.linkFn != nil {
		return m.linkFn(ctx, ownerID, platform, code)
	}
	return &linking.Result{Platform: platform}, nil
}

type mockAccountService struct {
	listAccountsFn func(ctx context.Context, ownerID string) ([]*model.LinkedAccount, error)
	disconnectFn   func(ctx context.Context, ownerID, accountID string) (bool, error)
	platformsFn    func() []linking.PlatformStatus
	linkFacebookFn func(ctx context.Context, ownerID, token string) (*linking.Result, error)
}

func (m *mockAccountService) ListAccounts(ctx context.Context, ownerID string) ([]*model.LinkedAccount, error) {
	if m.listAccountsFn != nil {
		return m.listAccountsFn(ctx, ownerID)
	}
	return nil, nil
}

func (m *mockAccountService) Disconnect(ctx context.Context, ownerID, accountID string) (bool, error) {
	if m.disconnectFn != nil {
		return m.disconnectFn(ctx, ownerID, accountID)
	}
	return false, nil
}

func (m *mockAccountService) Platforms() []linking.PlatformStatus {
	if m.platformsFn != nil {
		return m.platformsFn()
	}
	return nil
}

func (m *mockAccountService) LinkWithFacebookToken(ctx context.Context, ownerID, token string) (*linking.Result, error) {
	if m.linkFacebookFn != nil {
		return m.linkFacebookFn(ctx, ownerID, token)
	}
	return &linking.Result{Platform: model.PlatformFacebook}, nil
}

type mockPostService struct {
	createFn func(ctx context.Context, ownerID string, in post.CreateInput) (*model.Post, error)
	listFn   func(ctx context.Context, ownerID string, from, to time.Time) ([]model.PostWithAccount, error)
	updateFn func(ctx context.Context, ownerID, postID string, in post.UpdateInput) (*model.Post, error)
	deleteFn func(ctx context.Context, ownerID, postID string) error
}

func (m *mockPostService) Create(ctx context.Context, ownerID string, in post.CreateInput) (*model.Post, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ownerID, in)
	}
	return &model.Post{ID: "post-1", OwnerID: ownerID, Status: model.PostStatusDraft}, nil
}

func (m *mockPostService) List(ctx context.Context, ownerID string, from, to time.Time) ([]model.PostWithAccount, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ownerID, from, to)
	}
	return nil, nil
}

func (m *mockPostService) Update(ctx context.Context, ownerID, postID string, in post.UpdateInput) (*model.Post, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, ownerID, postID, in)
	}
	return &model.Post{ID: postID, OwnerID: ownerID, Status: model.PostStatusDraft}, nil
}

func (m *mockPostService) Delete(ctx context.Context, ownerID, postID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, ownerID, postID)
	}
	return nil
}

type mockUserService struct {
	withdrawFn func(ctx context.Context, userID string) error
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

// --- ヘルパー ---

// withUser はセッションミドルウェア通過後と同じくユーザーIDをコンテキストに載せる。
func withUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

// findCookie はレスポンスから指定名のCookieを探す。
func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
