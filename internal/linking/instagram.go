package linking

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/hitoshi/socialhub/internal/model"
)

const (
	defaultInstagramAuthURL  = "https://api.instagram.com/oauth/authorize"
	defaultInstagramTokenURL = "https://api.instagram.com/oauth/access_token"
	defaultInstagramGraphURL = "https://graph.instagram.com"
)

// InstagramScopes はプロフィール連携に要求する権限。
var InstagramScopes = []string{"user_profile", "user_media"}

// InstagramConfig はInstagram連携の設定。
type InstagramConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
	GraphURL string

	HTTPClient *http.Client
}

// InstagramConnector はInstagramプロフィール連携を行う。
type InstagramConnector struct {
	oauth      *oauth2.Config
	graphURL   string
	httpClient *http.Client
}

// NewInstagramConnector はInstagramConnectorを生成する。
func NewInstagramConnector(config InstagramConfig) *InstagramConnector {
	if config.AuthURL == "" {
		config.AuthURL = defaultInstagramAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultInstagramTokenURL
	}
	if config.GraphURL == "" {
		config.GraphURL = defaultInstagramGraphURL
	}
	return &InstagramConnector{
		oauth: newOAuthConfig(config.ClientID, config.ClientSecret, config.RedirectURL,
			config.AuthURL, config.TokenURL, InstagramScopes),
		graphURL:   strings.TrimRight(config.GraphURL, "/"),
		httpClient: httpClientOrDefault(config.HTTPClient),
	}
}

// Platform はmodel.PlatformInstagramを返す。
func (c *InstagramConnector) Platform() model.Platform {
	return model.PlatformInstagram
}

// AuthCodeURL はInstagramの同意画面URLを返す。
func (c *InstagramConnector) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange は認可コードを短期アクセストークンに交換する。
func (c *InstagramConnector) Exchange(ctx context.Context, code string) (*Grant, error) {
	return exchangeCode(ctx, c.httpClient, c.oauth, code)
}

type instagramProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	AccountType string `json:"account_type"`
	MediaCount  int64  `json:"media_count"`
}

// Discover はトークンの持ち主のプロフィールを1件返す。IDが取れない場合は空。
func (c *InstagramConnector) Discover(ctx context.Context, grant *Grant) ([]Entity, error) {
	params := url.Values{
		"fields":       {"id,username,account_type,media_count"},
		"access_token": {grant.AccessToken},
	}

	var profile instagramProfile
	if err := getJSON(ctx, c.httpClient, c.graphURL+"/me?"+params.Encode(), "", &profile); err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	if profile.ID == "" {
		return nil, nil
	}

	return []Entity{{
		ExternalID:     profile.ID,
		DisplayName:    profile.Username,
		AccessToken:    grant.AccessToken,
		TokenExpiresAt: grant.ExpiresAt,
		Metadata: model.AccountMetadata{
			"username":     profile.Username,
			"account_type": profile.AccountType,
			"media_count":  profile.MediaCount,
		},
	}}, nil
}

// compile-time interface check
var _ Connector = (*InstagramConnector)(nil)
