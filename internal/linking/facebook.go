package linking

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/socialhub/internal/model"
)

const (
	defaultFacebookAuthURL  = "https://www.facebook.com/v18.0/dialog/oauth"
	defaultFacebookGraphURL = "https://graph.facebook.com/v18.0"

	// maxFacebookPageRequests は/me/accountsのページング追跡回数の上限。
	maxFacebookPageRequests = 10
)

// FacebookScopes はページ連携に要求する権限。
var FacebookScopes = []string{"pages_show_list", "pages_read_engagement", "pages_manage_posts"}

// FacebookConfig はFacebookページ連携の設定。
type FacebookConfig struct {
	AppID       string
	AppSecret   string
	RedirectURL string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	GraphURL string

	HTTPClient *http.Client
}

// FacebookConnector はFacebookページ連携を行う。
// ユーザートークンで管理ページを列挙し、ページごとのトークンを保存対象とする。
type FacebookConnector struct {
	oauth      *oauth2.Config
	appID      string
	appSecret  string
	graphURL   string
	httpClient *http.Client
	now        func() time.Time
}

// NewFacebookConnector はFacebookConnectorを生成する。
func NewFacebookConnector(config FacebookConfig) *FacebookConnector {
	if config.AuthURL == "" {
		config.AuthURL = defaultFacebookAuthURL
	}
	if config.GraphURL == "" {
		config.GraphURL = defaultFacebookGraphURL
	}
	graphURL := strings.TrimRight(config.GraphURL, "/")

	return &FacebookConnector{
		oauth: newOAuthConfig(config.AppID, config.AppSecret, config.RedirectURL,
			config.AuthURL, graphURL+"/oauth/access_token", FacebookScopes),
		appID:      config.AppID,
		appSecret:  config.AppSecret,
		graphURL:   graphURL,
		httpClient: httpClientOrDefault(config.HTTPClient),
		now:        time.Now,
	}
}

// Platform はmodel.PlatformFacebookを返す。
func (c *FacebookConnector) Platform() model.Platform {
	return model.PlatformFacebook
}

// AuthCodeURL はFacebookの同意画面URLを返す。
func (c *FacebookConnector) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange は認可コードをユーザーアクセストークンに交換する。
func (c *FacebookConnector) Exchange(ctx context.Context, code string) (*Grant, error) {
	return exchangeCode(ctx, c.httpClient, c.oauth, code)
}

type facebookTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ExchangeLongLived はJavaScript SDKで取得した短期ユーザートークンを長期トークンに交換する。
func (c *FacebookConnector) ExchangeLongLived(ctx context.Context, shortLivedToken string) (*Grant, error) {
	params := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {c.appID},
		"client_secret":     {c.appSecret},
		"fb_exchange_token": {shortLivedToken},
	}

	var resp facebookTokenResponse
	if err := getJSON(ctx, c.httpClient, c.graphURL+"/oauth/access_token?"+params.Encode(), "", &resp); err != nil {
		return nil, fmt.Errorf("failed to exchange long-lived token: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, ErrNoAccessToken
	}
	return &Grant{
		AccessToken: resp.AccessToken,
		ExpiresAt:   expiryFrom(c.now(), resp.ExpiresIn),
	}, nil
}

type facebookPage struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	AccessToken string   `json:"access_token"`
	Category    string   `json:"category"`
	Tasks       []string `json:"tasks"`
}

type facebookAccountsResponse struct {
	Data   []facebookPage `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// Discover はユーザーが管理するページを列挙する。
// ページトークンを持たないページ（権限不足）は連携対象から除外する。
func (c *FacebookConnector) Discover(ctx context.Context, grant *Grant) ([]Entity, error) {
	params := url.Values{
		"fields": {"id,name,access_token,category,tasks"},
		"limit":  {"100"},
	}
	next := c.graphURL + "/me/accounts?" + params.Encode()

	var entities []Entity
	for i := 0; i < maxFacebookPageRequests && next != ""; i++ {
		var resp facebookAccountsResponse
		if err := getJSON(ctx, c.httpClient, next, grant.AccessToken, &resp); err != nil {
			return nil, fmt.Errorf("failed to list pages: %w", err)
		}

		for _, page := range resp.Data {
			if page.ID == "" || page.AccessToken == "" {
				continue
			}
			entities = append(entities, Entity{
				ExternalID:  page.ID,
				DisplayName: page.Name,
				AccessToken: page.AccessToken,
				Metadata: model.AccountMetadata{
					"category": page.Category,
					"tasks":    page.Tasks,
				},
			})
		}

		next = c.sameHost(resp.Paging.Next)
	}
	return entities, nil
}

// sameHost はページングURLがGraph APIと同一ホストの場合のみそのまま返す。
func (c *FacebookConnector) sameHost(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	next, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base, err := url.Parse(c.graphURL)
	if err != nil || next.Host != base.Host {
		return ""
	}
	return rawURL
}

// compile-time interface check
var (
	_ Connector          = (*FacebookConnector)(nil)
	_ LongLivedExchanger = (*FacebookConnector)(nil)
)
