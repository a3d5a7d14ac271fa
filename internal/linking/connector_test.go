package linking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/socialhub/internal/model"
)

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestFacebookConnector_AuthCodeURL(t *testing.T) {
	c := NewFacebookConnector(FacebookConfig{
		AppID:       "app-1",
		AppSecret:   "secret",
		RedirectURL: "https://example.com/dashboard/accounts/facebook/callback",
	})

	u, err := url.Parse(c.AuthCodeURL("state-1"))
	require.NoError(t, err)
	assert.Equal(t, "www.facebook.com", u.Host)
	q := u.Query()
	assert.Equal(t, "app-1", q.Get("client_id"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "pages_show_list pages_read_engagement pages_manage_posts", q.Get("scope"))
	assert.Equal(t, "https://example.com/dashboard/accounts/facebook/callback", q.Get("redirect_uri"))
}

func TestFacebookConnector_ExchangeAndDiscover(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/access_token":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "the-code", r.PostForm.Get("code"))
			assert.Equal(t, "app-1", r.PostForm.Get("client_id"))
			assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
			assert.Equal(t, "https://example.com/cb", r.PostForm.Get("redirect_uri"))
			writeJSON(t, w, map[string]any{"access_token": "user-token", "token_type": "bearer", "expires_in": 3600})
		case "/me/accounts":
			assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
			if r.URL.Query().Get("after") == "" {
				writeJSON(t, w, map[string]any{
					"data": []map[string]any{
						{"id": "p1", "name": "Page One", "access_token": "page-token-1", "category": "Cafe", "tasks": []string{"CREATE_CONTENT"}},
						{"id": "p-no-token", "name": "Limited"},
					},
					"paging": map[string]any{"next": srv.URL + "/me/accounts?after=cursor"},
				})
				return
			}
			writeJSON(t, w, map[string]any{
				"data": []map[string]any{
					{"id": "p2", "name": "Page Two", "access_token": "page-token-2", "category": "Shop"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewFacebookConnector(FacebookConfig{
		AppID:       "app-1",
		AppSecret:   "secret",
		RedirectURL: "https://example.com/cb",
		GraphURL:    srv.URL,
		HTTPClient:  srv.Client(),
	})

	grant, err := c.Exchange(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "user-token", grant.AccessToken)
	require.NotNil(t, grant.ExpiresAt)

	entities, err := c.Discover(context.Background(), grant)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "p1", entities[0].ExternalID)
	assert.Equal(t, "Page One", entities[0].DisplayName)
	assert.Equal(t, "page-token-1", entities[0].AccessToken)
	assert.Equal(t, "Cafe", entities[0].Metadata["category"])
	assert.Equal(t, "p2", entities[1].ExternalID)
	assert.Equal(t, "page-token-2", entities[1].AccessToken)
}

func TestFacebookConnector_ExchangeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"invalid code"}`))
	}))
	defer srv.Close()

	c := NewFacebookConnector(FacebookConfig{AppID: "a", AppSecret: "s", GraphURL: srv.URL, HTTPClient: srv.Client()})
	_, err := c.Exchange(context.Background(), "bad")
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
}

func TestFacebookConnector_ExchangeLongLived(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/oauth/access_token", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "fb_exchange_token", q.Get("grant_type"))
		assert.Equal(t, "app-1", q.Get("client_id"))
		assert.Equal(t, "secret", q.Get("client_secret"))
		assert.Equal(t, "short", q.Get("fb_exchange_token"))
		writeJSON(t, w, map[string]any{"access_token": "long", "expires_in": 5184000})
	}))
	defer srv.Close()

	c := NewFacebookConnector(FacebookConfig{AppID: "app-1", AppSecret: "secret", GraphURL: srv.URL, HTTPClient: srv.Client()})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	grant, err := c.ExchangeLongLived(context.Background(), "short")
	require.NoError(t, err)
	assert.Equal(t, "long", grant.AccessToken)
	require.NotNil(t, grant.ExpiresAt)
	assert.Equal(t, now.Add(60*24*time.Hour), *grant.ExpiresAt)
}

func TestFacebookConnector_IgnoresForeignPagingHost(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(t, w, map[string]any{
			"data":   []map[string]any{{"id": "p1", "name": "P", "access_token": "t"}},
			"paging": map[string]any{"next": "https://evil.example.com/me/accounts?after=x"},
		})
	}))
	defer srv.Close()

	c := NewFacebookConnector(FacebookConfig{GraphURL: srv.URL, HTTPClient: srv.Client()})
	entities, err := c.Discover(context.Background(), &Grant{AccessToken: "u"})
	require.NoError(t, err)
	assert.Len(t, entities, 1)
	assert.Equal(t, 1, calls)
}

func TestInstagramConnector_ExchangeAndDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/access_token":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
			assert.Equal(t, "ig-client", r.PostForm.Get("client_id"))
			assert.Equal(t, "ig-code", r.PostForm.Get("code"))
			writeJSON(t, w, map[string]any{"access_token": "ig-token", "user_id": 17841400000})
		case "/me":
			q := r.URL.Query()
			assert.Equal(t, "ig-token", q.Get("access_token"))
			assert.Equal(t, "id,username,account_type,media_count", q.Get("fields"))
			writeJSON(t, w, map[string]any{"id": "17841400000", "username": "cafe_tokyo", "account_type": "BUSINESS", "media_count": 42})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewInstagramConnector(InstagramConfig{
		ClientID:     "ig-client",
		ClientSecret: "ig-secret",
		RedirectURL:  "https://example.com/cb",
		TokenURL:     srv.URL + "/oauth/access_token",
		GraphURL:     srv.URL,
		HTTPClient:   srv.Client(),
	})

	grant, err := c.Exchange(context.Background(), "ig-code")
	require.NoError(t, err)
	assert.Equal(t, "ig-token", grant.AccessToken)

	entities, err := c.Discover(context.Background(), grant)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "17841400000", entities[0].ExternalID)
	assert.Equal(t, "cafe_tokyo", entities[0].DisplayName)
	assert.Equal(t, "BUSINESS", entities[0].Metadata["account_type"])
}

func TestInstagramConnector_DiscoverWithoutID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{})
	}))
	defer srv.Close()

	c := NewInstagramConnector(InstagramConfig{GraphURL: srv.URL, HTTPClient: srv.Client()})
	entities, err := c.Discover(context.Background(), &Grant{AccessToken: "t"})
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestTikTokConnector_AuthCodeURL(t *testing.T) {
	c := NewTikTokConnector(TikTokConfig{ClientKey: "tt-key", RedirectURL: "https://example.com/cb"})

	u, err := url.Parse(c.AuthCodeURL("st"))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "tt-key", q.Get("client_key"))
	assert.Equal(t, "user.info.basic,video.list,video.upload", q.Get("scope"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "st", q.Get("state"))
	assert.Empty(t, q.Get("client_id"))
}

func newTikTokServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/access_token/":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "tt-key", r.PostForm.Get("client_key"))
			assert.Equal(t, "tt-secret", r.PostForm.Get("client_secret"))
			assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
			assert.Equal(t, "https://example.com/cb", r.PostForm.Get("redirect_uri"))
			if r.PostForm.Get("code") == "bad" {
				writeJSON(t, w, map[string]any{"data": map[string]any{"error_code": 10007, "description": "code expired"}, "message": "error"})
				return
			}
			writeJSON(t, w, map[string]any{"data": map[string]any{
				"access_token": "tt-access", "refresh_token": "tt-refresh",
				"expires_in": 86400, "refresh_expires_in": 31536000, "open_id": "open-1",
			}, "message": "success"})
		case "/oauth/refresh_token/":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
			assert.Equal(t, "tt-refresh", r.PostForm.Get("refresh_token"))
			writeJSON(t, w, map[string]any{"data": map[string]any{
				"access_token": "tt-access-2", "refresh_token": "tt-refresh-2", "expires_in": 86400, "open_id": "open-1",
			}})
		case "/user/info/":
			assert.Equal(t, "Bearer tt-access", r.Header.Get("Authorization"))
			writeJSON(t, w, map[string]any{"data": map[string]any{"user": map[string]any{
				"display_name": "dancer", "avatar_url": "https://cdn.example.com/a.jpg",
				"follower_count": 1200, "following_count": 30,
			}}})
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestTikTokConnector(srv *httptest.Server) *TikTokConnector {
	return NewTikTokConnector(TikTokConfig{
		ClientKey:    "tt-key",
		ClientSecret: "tt-secret",
		RedirectURL:  "https://example.com/cb",
		TokenURL:     srv.URL + "/oauth/access_token/",
		RefreshURL:   srv.URL + "/oauth/refresh_token/",
		UserInfoURL:  srv.URL + "/user/info/",
		HTTPClient:   srv.Client(),
	})
}

func TestTikTokConnector_ExchangeAndDiscover(t *testing.T) {
	srv := newTikTokServer(t)
	defer srv.Close()

	c := newTestTikTokConnector(srv)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	grant, err := c.Exchange(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "tt-access", grant.AccessToken)
	assert.Equal(t, "tt-refresh", grant.RefreshToken)
	assert.Equal(t, "open-1", grant.Subject)
	require.NotNil(t, grant.ExpiresAt)
	assert.Equal(t, now.Add(24*time.Hour), *grant.ExpiresAt)
	require.NotNil(t, grant.RefreshExpiresAt)

	entities, err := c.Discover(context.Background(), grant)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	e := entities[0]
	// user/infoがopen_idを返さないためトークン応答の値を使う
	assert.Equal(t, "open-1", e.ExternalID)
	assert.Equal(t, "dancer", e.DisplayName)
	assert.Equal(t, "tt-refresh", e.RefreshToken)
	assert.Equal(t, int64(1200), e.Metadata["follower_count"])
	assert.Equal(t, "https://cdn.example.com/a.jpg", e.Metadata["avatar_url"])
}

func TestTikTokConnector_ExchangeWithoutAccessToken(t *testing.T) {
	srv := newTikTokServer(t)
	defer srv.Close()

	_, err := newTestTikTokConnector(srv).Exchange(context.Background(), "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoAccessToken)
	assert.True(t, IsPermanent(err))
}

func TestTikTokConnector_Refresh(t *testing.T) {
	srv := newTikTokServer(t)
	defer srv.Close()

	grant, err := newTestTikTokConnector(srv).Refresh(context.Background(), "tt-refresh")
	require.NoError(t, err)
	assert.Equal(t, "tt-access-2", grant.AccessToken)
	assert.Equal(t, "tt-refresh-2", grant.RefreshToken)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(&HTTPError{StatusCode: http.StatusUnauthorized}))
	assert.True(t, IsPermanent(&HTTPError{StatusCode: http.StatusBadRequest}))
	assert.False(t, IsPermanent(&HTTPError{StatusCode: http.StatusBadGateway}))
	assert.False(t, IsPermanent(context.DeadlineExceeded))
	assert.False(t, IsPermanent(ErrNoAccessToken))
}

func TestTikTokConnector_RefreshErrorCodes(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		permanent bool
	}{
		{name: "refresh token expired", code: 10010, permanent: true},
		{name: "invalid token", code: 10008, permanent: true},
		{name: "system error", code: 10000, permanent: false},
		{name: "rate limited", code: 10015, permanent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, map[string]any{
					"data":    map[string]any{"error_code": tt.code, "description": tt.name},
					"message": "error",
				})
			}))
			defer srv.Close()

			_, err := newTestTikTokConnector(srv).Refresh(context.Background(), "tt-refresh")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNoAccessToken)

			var ttErr *TikTokError
			require.ErrorAs(t, err, &ttErr)
			assert.Equal(t, tt.code, ttErr.Code)
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}
}

func TestModelPlatforms(t *testing.T) {
	assert.Equal(t, model.PlatformFacebook, NewFacebookConnector(FacebookConfig{}).Platform())
	assert.Equal(t, model.PlatformInstagram, NewInstagramConnector(InstagramConfig{}).Platform())
	assert.Equal(t, model.PlatformTikTok, NewTikTokConnector(TikTokConfig{}).Platform())
}
