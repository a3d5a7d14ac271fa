package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/socialhub/internal/linking"
	"github.com/hitoshi/socialhub/internal/metrics"
	"github.com/hitoshi/socialhub/internal/middleware"
	"github.com/hitoshi/socialhub/internal/model"
	"github.com/hitoshi/socialhub/internal/repository"
	"github.com/hitoshi/socialhub/internal/security"
)

// --- 統合テスト用のステートフルモック ---

// memLinkedAccountRepo は統合テスト用のインメモリ連携アカウントリポジトリ。
type memLinkedAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*model.LinkedAccount // id -> account
}

func newMemLinkedAccountRepo() *memLinkedAccountRepo {
	return &memLinkedAccountRepo{accounts: make(map[string]*model.LinkedAccount)}
}

func (r *memLinkedAccountRepo) Upsert(ctx context.Context, account *model.LinkedAccount) (*model.LinkedAccount, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, existing := range r.accounts {
		if existing.OwnerID == account.OwnerID && existing.Platform == account.Platform &&
			existing.ExternalAccountID == account.ExternalAccountID {
			existing.DisplayName = account.DisplayName
			existing.AccessToken = account.AccessToken
			existing.RefreshToken = account.RefreshToken
			existing.TokenExpiresAt = account.TokenExpiresAt
			existing.RefreshExpiresAt = account.RefreshExpiresAt
			delete(existing.Metadata, model.MetadataKeyRefreshError)
			for k, v := range account.Metadata {
				existing.Metadata[k] = v
			}
			existing.UpdatedAt = now
			saved := *existing
			return &saved, false, nil
		}
	}

	saved := *account
	if saved.Metadata == nil {
		saved.Metadata = model.AccountMetadata{}
	}
	saved.LinkedAt = now
	saved.UpdatedAt = now
	r.accounts[saved.ID] = &saved
	out := saved
	return &out, true, nil
}

func (r *memLinkedAccountRepo) FindByID(ctx context.Context, ownerID, id string) (*model.LinkedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok && a.OwnerID == ownerID {
		out := *a
		return &out, nil
	}
	return nil, nil
}

func (r *memLinkedAccountRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.LinkedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.LinkedAccount
	for _, a := range r.accounts {
		if a.OwnerID == ownerID {
			out := *a
			result = append(result, &out)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Platform != result[j].Platform {
			return result[i].Platform < result[j].Platform
		}
		return result[i].DisplayName < result[j].DisplayName
	})
	return result, nil
}

func (r *memLinkedAccountRepo) DeleteByIDAndOwner(ctx context.Context, id, ownerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok && a.OwnerID == ownerID {
		delete(r.accounts, id)
		return true, nil
	}
	return false, nil
}

func (r *memLinkedAccountRepo) ListRefreshDue(ctx context.Context, platforms []model.Platform, before time.Time, limit int) ([]*model.LinkedAccount, error) {
	return nil, nil
}

func (r *memLinkedAccountRepo) UpdateTokens(ctx context.Context, account *model.LinkedAccount) error {
	return repository.ErrNotFound
}

func (r *memLinkedAccountRepo) MergeMetadata(ctx context.Context, id string, metadata model.AccountMetadata) error {
	return repository.ErrNotFound
}

var _ repository.LinkedAccountRepository = (*memLinkedAccountRepo)(nil)

// fakeConnector は認可コードに関係なく固定の連携対象を返すConnector。
type fakeConnector struct {
	platform model.Platform
	entities []linking.Entity
}

func (c *fakeConnector) Platform() model.Platform { return c.platform }

func (c *fakeConnector) AuthCodeURL(state string) string {
	return "https://consent.example.com/" + string(c.platform) + "?state=" + url.QueryEscape(state)
}

func (c *fakeConnector) Exchange(ctx context.Context, code string) (*linking.Grant, error) {
	if code == "bad-code" {
		return nil, errors.New("invalid_grant")
	}
	return &linking.Grant{AccessToken: "user-token-" + code}, nil
}

func (c *fakeConnector) Discover(ctx context.Context, grant *linking.Grant) ([]linking.Entity, error) {
	return c.entities, nil
}

// --- 統合テスト用ルーター構築ヘルパー ---

type integrationEnv struct {
	router   http.Handler
	accounts *memLinkedAccountRepo
}

func newIntegrationEnv(t *testing.T) *integrationEnv {
	t.Helper()

	registry := linking.NewRegistry()
	registry.Register(model.PlatformFacebook, func(ctx context.Context) (linking.Connector, error) {
		return &fakeConnector{
			platform: model.PlatformFacebook,
			entities: []linking.Entity{
				{ExternalID: "page-1", DisplayName: "<b>Page A</b>", AccessToken: "page-token-1"},
				{ExternalID: "page-2", DisplayName: "Page B", AccessToken: "page-token-2"},
			},
		}, nil
	})
	registry.Register(model.PlatformInstagram, func(ctx context.Context) (linking.Connector, error) {
		return nil, errors.New("INSTAGRAM_APP_SECRET is not set")
	})
	registry.Register(model.PlatformTikTok, func(ctx context.Context) (linking.Connector, error) {
		return &fakeConnector{
			platform: model.PlatformTikTok,
			entities: []linking.Entity{{ExternalID: "open-1", DisplayName: "", AccessToken: "tt-token"}},
		}, nil
	})
	registry.LoadAll(context.Background())

	accounts := newMemLinkedAccountRepo()
	promRegistry := prometheus.NewRegistry()
	service := linking.NewService(registry, accounts, security.NewTextSanitizer(), metrics.NewCollector(promRegistry))

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	sessions := &mockSessionFinderForRouter{
		sessions: map[string]*model.Session{
			"session-owner": {ID: "session-owner", UserID: "user-owner", ExpiresAt: time.Now().Add(time.Hour)},
			"session-other": {ID: "session-other", UserID: "user-other", ExpiresAt: time.Now().Add(time.Hour)},
		},
	}

	router := NewRouter(&RouterDeps{
		SessionFinder:     sessions,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		DB:                &mockPinger{},
		MetricsHandler:    metrics.Handler(promRegistry),
		AuthService:       &mockAuthService{},
		AuthConfig:        AuthHandlerConfig{BaseURL: "http://localhost:3000", AfterLoginPath: "/dashboard/accounts"},
		LinkService:       service,
		StateManager:      security.NewStateSigner("integration-secret", 10*time.Minute),
		LinkConfig:        LinkHandlerConfig{AccountsPagePath: testAccountsPage, StateMaxAge: 600},
		AccountService:    service,
		PostService:       &mockPostService{},
		UserService:       &mockUserService{},
	})

	return &integrationEnv{router: router, accounts: accounts}
}

func (e *integrationEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// link は連携開始からコールバックまでを実行し、コールバックのLocationを返す。
func (e *integrationEnv) link(t *testing.T, sessionID, platform, code string) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/dashboard/accounts/"+platform+"/connect", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: sessionID})
	w := e.do(req)
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("connect status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}

	cookie := findCookie(w.Result(), "link_state_"+platform)
	if cookie == nil {
		// 連携開始自体がエラーリダイレクトになった場合
		return w.Header().Get("Location")
	}
	consent, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid consent URL: %v", err)
	}
	state := consent.Query().Get("state")

	callback := "/dashboard/accounts/" + platform + "/callback?code=" + url.QueryEscape(code) + "&state=" + url.QueryEscape(state)
	req = httptest.NewRequest(http.MethodGet, callback, nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: sessionID})
	req.AddCookie(cookie)
	w = e.do(req)
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("callback status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
	return w.Header().Get("Location")
}

func (e *integrationEnv) listAccounts(t *testing.T, sessionID string) []accountResponse {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: sessionID})
	w := e.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", w.Code, http.StatusOK)
	}
	if strings.Contains(w.Body.String(), "page-token") || strings.Contains(w.Body.String(), "tt-token") {
		t.Fatalf("list response leaks tokens: %s", w.Body.String())
	}

	var accounts []accountResponse
	if err := json.NewDecoder(w.Body).Decode(&accounts); err != nil {
		t.Fatalf("failed to decode accounts: %v", err)
	}
	return accounts
}

// --- 統合テスト ---

func TestIntegration_FacebookLinkFlow(t *testing.T) {
	env := newIntegrationEnv(t)

	if loc := env.link(t, "session-owner", "facebook", "code-1"); loc != testAccountsPage+"?success=true&linked=2" {
		t.Fatalf("callback Location = %q", loc)
	}

	accounts := env.listAccounts(t, "session-owner")
	if len(accounts) != 2 {
		t.Fatalf("len(accounts) = %d, want 2", len(accounts))
	}
	if accounts[0].DisplayName != "Page A" {
		t.Errorf("display name = %q, want sanitized Page A", accounts[0].DisplayName)
	}
	if accounts[0].Platform != "facebook" || accounts[0].ExternalAccountID != "page-1" {
		t.Errorf("accounts[0] = %+v", accounts[0])
	}

	// 再連携は同じ連携アカウントを更新する
	if loc := env.link(t, "session-owner", "facebook", "code-2"); loc != testAccountsPage+"?success=true&linked=2" {
		t.Fatalf("relink Location = %q", loc)
	}
	relinked := env.listAccounts(t, "session-owner")
	if len(relinked) != 2 {
		t.Fatalf("len(accounts) after relink = %d, want 2", len(relinked))
	}
	if relinked[0].ID != accounts[0].ID {
		t.Errorf("relink changed id: %q -> %q", accounts[0].ID, relinked[0].ID)
	}

	// 他ユーザーには見えない
	if others := env.listAccounts(t, "session-other"); len(others) != 0 {
		t.Errorf("other user sees %d accounts, want 0", len(others))
	}
}

func TestIntegration_TikTokDisplayNameFallsBackToExternalID(t *testing.T) {
	env := newIntegrationEnv(t)

	if loc := env.link(t, "session-owner", "tiktok", "code-1"); loc != testAccountsPage+"?success=true&linked=1" {
		t.Fatalf("callback Location = %q", loc)
	}

	accounts := env.listAccounts(t, "session-owner")
	if len(accounts) != 1 || accounts[0].DisplayName != "open-1" {
		t.Errorf("accounts = %+v, want display name open-1", accounts)
	}
}

func TestIntegration_Disconnect(t *testing.T) {
	env := newIntegrationEnv(t)
	env.link(t, "session-owner", "facebook", "code-1")
	accounts := env.listAccounts(t, "session-owner")
	if len(accounts) != 2 {
		t.Fatalf("len(accounts) = %d, want 2", len(accounts))
	}

	deleteAs := func(sessionID, accountID string) int {
		req := httptest.NewRequest(http.MethodDelete, "/api/accounts/"+accountID, nil)
		req.AddCookie(&http.Cookie{Name: "session_id", Value: sessionID})
		req.AddCookie(&http.Cookie{Name: "socialhub_csrf", Value: "test-token"})
		req.Header.Set("X-CSRF-Token", "test-token")
		return env.do(req).Code
	}

	// 他ユーザーの削除要求は204だが何も消えない
	if code := deleteAs("session-other", accounts[0].ID); code != http.StatusNoContent {
		t.Errorf("other user delete status = %d, want %d", code, http.StatusNoContent)
	}
	if got := len(env.listAccounts(t, "session-owner")); got != 2 {
		t.Fatalf("len(accounts) after foreign delete = %d, want 2", got)
	}

	if code := deleteAs("session-owner", accounts[0].ID); code != http.StatusNoContent {
		t.Errorf("delete status = %d, want %d", code, http.StatusNoContent)
	}
	remaining := env.listAccounts(t, "session-owner")
	if len(remaining) != 1 || remaining[0].ID != accounts[1].ID {
		t.Errorf("remaining = %+v, want only %s", remaining, accounts[1].ID)
	}
}

func TestIntegration_UnavailablePlatform(t *testing.T) {
	env := newIntegrationEnv(t)

	if loc := env.link(t, "session-owner", "instagram", "code-1"); loc != testAccountsPage+"?error=platform_unavailable" {
		t.Errorf("Location = %q, want platform_unavailable", loc)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/platforms", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-owner"})
	w := env.do(req)

	var platforms []platformResponse
	if err := json.NewDecoder(w.Body).Decode(&platforms); err != nil {
		t.Fatalf("failed to decode platforms: %v", err)
	}
	states := make(map[string]string)
	for _, p := range platforms {
		states[p.Platform] = p.State
	}
	if states["facebook"] != "ready" || states["instagram"] != "error" || states["tiktok"] != "ready" {
		t.Errorf("platform states = %v", states)
	}
}

func TestIntegration_ExchangeFailure(t *testing.T) {
	env := newIntegrationEnv(t)

	if loc := env.link(t, "session-owner", "facebook", "bad-code"); loc != testAccountsPage+"?error=unknown" {
		t.Errorf("Location = %q, want error=unknown", loc)
	}
	if got := len(env.listAccounts(t, "session-owner")); got != 0 {
		t.Errorf("len(accounts) = %d, want 0", got)
	}
}

func TestIntegration_MetricsExposeLinkAttempts(t *testing.T) {
	env := newIntegrationEnv(t)
	env.link(t, "session-owner", "facebook", "code-1")
	env.link(t, "session-owner", "facebook", "bad-code")

	w := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Body)
	for _, want := range []string{
		`socialhub_link_attempts_total{outcome="success",platform="facebook"} 1`,
		`socialhub_link_attempts_total{outcome="unknown",platform="facebook"} 1`,
		`socialhub_linked_entities_total{platform="facebook",result="inserted"} 2`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
