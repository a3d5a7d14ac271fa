package linking

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/socialhub/internal/model"
)

const (
	defaultTikTokAuthURL     = "https://www.tiktok.com/auth/authorize/"
	defaultTikTokTokenURL    = "https://open-api.tiktok.com/oauth/access_token/"
	defaultTikTokRefreshURL  = "https://open-api.tiktok.com/oauth/refresh_token/"
	defaultTikTokUserInfoURL = "https://open-api.tiktok.com/user/info/"
)

// TikTokScopes はプロフィール連携に要求する権限。
var TikTokScopes = []string{"user.info.basic", "video.list", "video.upload"}

// TikTokConfig はTikTok連携の設定。
type TikTokConfig struct {
	ClientKey    string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	RefreshURL  string
	UserInfoURL string

	HTTPClient *http.Client
}

// TikTokConnector はTikTokプロフィール連携を行う。
// TikTokはclient_idではなくclient_keyを使い、応答がdataでネストされるため
// x/oauth2を使わずフォームPOSTで交換する。
type TikTokConnector struct {
	config     TikTokConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewTikTokConnector はTikTokConnectorを生成する。
func NewTikTokConnector(config TikTokConfig) *TikTokConnector {
	if config.AuthURL == "" {
		config.AuthURL = defaultTikTokAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultTikTokTokenURL
	}
	if config.RefreshURL == "" {
		config.RefreshURL = defaultTikTokRefreshURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultTikTokUserInfoURL
	}
	return &TikTokConnector{
		config:     config,
		httpClient: httpClientOrDefault(config.HTTPClient),
		now:        time.Now,
	}
}

// Platform はmodel.PlatformTikTokを返す。
func (c *TikTokConnector) Platform() model.Platform {
	return model.PlatformTikTok
}

// AuthCodeURL はTikTokの同意画面URLを返す。
func (c *TikTokConnector) AuthCodeURL(state string) string {
	params := url.Values{
		"client_key":    {c.config.ClientKey},
		"scope":         {strings.Join(TikTokScopes, ",")},
		"response_type": {"code"},
		"redirect_uri":  {c.config.RedirectURL},
		"state":         {state},
	}
	sep := "?"
	if strings.Contains(c.config.AuthURL, "?") {
		sep = "&"
	}
	return c.config.AuthURL + sep + params.Encode()
}

// TikTokのトークンAPIがHTTP 200の本文で返すエラーコードのうち、再連携が必要なもの。
const (
	tiktokCodeExpired         = 10007
	tiktokInvalidToken        = 10008
	tiktokRefreshTokenExpired = 10010
)

// TikTokError はTikTokのトークンAPIが data.error_code で返した失敗。
// ErrNoAccessToken としても判定できる。
type TikTokError struct {
	Code        int
	Description string
}

func (e *TikTokError) Error() string {
	return fmt.Sprintf("tiktok error %d (%s)", e.Code, e.Description)
}

func (e *TikTokError) Unwrap() error {
	return ErrNoAccessToken
}

// Permanent は同じ認可コード・トークンで再試行しても成功しない失敗かを返す。
func (e *TikTokError) Permanent() bool {
	switch e.Code {
	case tiktokCodeExpired, tiktokInvalidToken, tiktokRefreshTokenExpired:
		return true
	default:
		return false
	}
}

type tiktokTokenData struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	OpenID           string `json:"open_id"`
	Scope            string `json:"scope"`
	ErrorCode        int    `json:"error_code"`
	Description      string `json:"description"`
}

type tiktokTokenResponse struct {
	Data    tiktokTokenData `json:"data"`
	Message string          `json:"message"`
}

// Exchange は認可コードをアクセストークンとリフレッシュトークンに交換する。
func (c *TikTokConnector) Exchange(ctx context.Context, code string) (*Grant, error) {
	form := url.Values{
		"client_key":    {c.config.ClientKey},
		"client_secret": {c.config.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {c.config.RedirectURL},
	}
	return c.requestToken(ctx, c.config.TokenURL, form)
}

// Refresh はリフレッシュトークンで新しいトークンを取得する。
func (c *TikTokConnector) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	form := url.Values{
		"client_key":    {c.config.ClientKey},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return c.requestToken(ctx, c.config.RefreshURL, form)
}

func (c *TikTokConnector) requestToken(ctx context.Context, endpoint string, form url.Values) (*Grant, error) {
	var resp tiktokTokenResponse
	if err := postForm(ctx, c.httpClient, endpoint, form, &resp); err != nil {
		return nil, fmt.Errorf("failed to request token: %w", err)
	}

	data := resp.Data
	if data.AccessToken == "" {
		if data.ErrorCode != 0 {
			return nil, &TikTokError{Code: data.ErrorCode, Description: data.Description}
		}
		return nil, ErrNoAccessToken
	}

	now := c.now()
	return &Grant{
		AccessToken:      data.AccessToken,
		RefreshToken:     data.RefreshToken,
		ExpiresAt:        expiryFrom(now, data.ExpiresIn),
		RefreshExpiresAt: expiryFrom(now, data.RefreshExpiresIn),
		Subject:          data.OpenID,
		Scope:            data.Scope,
	}, nil
}

type tiktokUser struct {
	OpenID         string `json:"open_id"`
	DisplayName    string `json:"display_name"`
	AvatarURL      string `json:"avatar_url"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
}

type tiktokUserInfoResponse struct {
	Data struct {
		User tiktokUser `json:"user"`
	} `json:"data"`
}

// Discover はトークンの持ち主のプロフィールを1件返す。
// user/infoがopen_idを返さない場合はトークン応答のopen_idを使う。
func (c *TikTokConnector) Discover(ctx context.Context, grant *Grant) ([]Entity, error) {
	var resp tiktokUserInfoResponse
	if err := getJSON(ctx, c.httpClient, c.config.UserInfoURL, grant.AccessToken, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	user := resp.Data.User
	openID := user.OpenID
	if openID == "" {
		openID = grant.Subject
	}
	if openID == "" {
		return nil, nil
	}

	return []Entity{{
		ExternalID:       openID,
		DisplayName:      user.DisplayName,
		AccessToken:      grant.AccessToken,
		RefreshToken:     grant.RefreshToken,
		TokenExpiresAt:   grant.ExpiresAt,
		RefreshExpiresAt: grant.RefreshExpiresAt,
		Metadata: model.AccountMetadata{
			"avatar_url":      user.AvatarURL,
			"follower_count":  user.FollowerCount,
			"following_count": user.FollowingCount,
		},
	}}, nil
}

// compile-time interface check
var (
	_ Connector = (*TikTokConnector)(nil)
	_ Refresher = (*TikTokConnector)(nil)
)
