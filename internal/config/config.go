// Package config は環境変数（および任意の設定ファイル）からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`

	// サインイン用Google OAuth
	GoogleClientID     string `yaml:"google_client_id" env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `yaml:"google_client_secret" env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `yaml:"google_redirect_url" env:"GOOGLE_REDIRECT_URL"`

	// Session
	SessionSecret string        `yaml:"session_secret" env:"SESSION_SECRET"`
	SessionMaxAge time.Duration `yaml:"session_max_age" env:"SESSION_MAX_AGE" env-default:"24h"`

	// TokenEncryptionKey は連携トークン暗号化用の32バイト鍵（16進数64文字）。
	TokenEncryptionKey string `yaml:"token_encryption_key" env:"TOKEN_ENCRYPTION_KEY"`

	// 連携先プラットフォーム。未設定のプラットフォームは利用不可として登録される。
	Facebook  PlatformCredentials `yaml:"facebook" env-prefix:"FACEBOOK_"`
	Instagram PlatformCredentials `yaml:"instagram" env-prefix:"INSTAGRAM_"`
	TikTok    PlatformCredentials `yaml:"tiktok" env-prefix:"TIKTOK_"`

	// Linking
	AccountsPagePath    string        `yaml:"accounts_page_path" env:"ACCOUNTS_PAGE_PATH" env-default:"/dashboard/accounts"`
	OAuthStateTTL       time.Duration `yaml:"oauth_state_ttl" env:"OAUTH_STATE_TTL" env-default:"10m"`
	PlatformHTTPTimeout time.Duration `yaml:"platform_http_timeout" env:"PLATFORM_HTTP_TIMEOUT" env-default:"10s"`

	// Token refresh worker
	RefreshInterval      time.Duration `yaml:"refresh_interval" env:"REFRESH_INTERVAL" env-default:"15m"`
	RefreshWindow        time.Duration `yaml:"refresh_window" env:"REFRESH_WINDOW" env-default:"24h"`
	RefreshMaxConcurrent int           `yaml:"refresh_max_concurrent" env:"REFRESH_MAX_CONCURRENT" env-default:"4"`

	// WorkerMetricsPort はworkerが/metricsを公開するポート。
	WorkerMetricsPort string `yaml:"worker_metrics_port" env:"WORKER_METRICS_PORT" env-default:"9090"`

	// Posts
	MediaCheckTimeout time.Duration `yaml:"media_check_timeout" env:"MEDIA_CHECK_TIMEOUT" env-default:"0s"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int `yaml:"rate_limit_general" env:"RATE_LIMIT_GENERAL" env-default:"120"`
	RateLimitLink    int `yaml:"rate_limit_link" env:"RATE_LIMIT_LINK" env-default:"10"`

	// Server
	ServerPort string `yaml:"server_port" env:"SERVER_PORT" env-default:"8080"`
	BaseURL    string `yaml:"base_url" env:"BASE_URL"`

	// Cookie
	CookieSecure bool   `yaml:"-"`
	CookieDomain string `yaml:"cookie_domain" env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `yaml:"cors_allowed_origin" env:"CORS_ALLOWED_ORIGIN" env-default:"http://localhost:3000"`

	// Logging: json または pretty
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" env-default:"json"`
}

// PlatformCredentials は連携先プラットフォームのOAuthクライアント設定。
// FacebookはAPP_ID/APP_SECRET、TikTokはCLIENT_KEYという名称も受け付ける。
type PlatformCredentials struct {
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	AppID        string `yaml:"app_id" env:"APP_ID"`
	ClientKey    string `yaml:"client_key" env:"CLIENT_KEY"`
	ClientSecret string `yaml:"client_secret" env:"CLIENT_SECRET"`
	AppSecret    string `yaml:"app_secret" env:"APP_SECRET"`
	RedirectURL  string `yaml:"redirect_url" env:"REDIRECT_URL"`
}

// ID はクライアントIDを返す。CLIENT_ID、APP_ID、CLIENT_KEYの順に採用する。
func (p PlatformCredentials) ID() string {
	for _, v := range []string{p.ClientID, p.AppID, p.ClientKey} {
		if v != "" {
			return v
		}
	}
	return ""
}

// Secret はクライアントシークレットを返す。
func (p PlatformCredentials) Secret() string {
	if p.ClientSecret != "" {
		return p.ClientSecret
	}
	return p.AppSecret
}

// Configured は連携に必要な値がすべて揃っているかを返す。
func (p PlatformCredentials) Configured() bool {
	return p.ID() != "" && p.Secret() != "" && p.RedirectURL != ""
}

// MissingFields は未設定の項目名を返す。
func (p PlatformCredentials) MissingFields() []string {
	var missing []string
	if p.ID() == "" {
		missing = append(missing, "client id")
	}
	if p.Secret() == "" {
		missing = append(missing, "client secret")
	}
	if p.RedirectURL == "" {
		missing = append(missing, "redirect url")
	}
	return missing
}

// Load は設定を読み込む。
// CONFIG_FILE が指定されていればYAMLファイルを読み、環境変数で上書きする。
// 必須項目が未設定の場合は未設定項目の一覧を含むエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if missing := cfg.missingRequired(); len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	return cfg, nil
}

// validate は0以下では動作しない値を検出する。
// REFRESH_INTERVAL=0 は time.NewTicker をpanicさせる。
func (c *Config) validate() error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"SESSION_MAX_AGE", c.SessionMaxAge},
		{"OAUTH_STATE_TTL", c.OAuthStateTTL},
		{"PLATFORM_HTTP_TIMEOUT", c.PlatformHTTPTimeout},
		{"REFRESH_INTERVAL", c.RefreshInterval},
		{"REFRESH_WINDOW", c.RefreshWindow},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.name, d.value)
		}
	}
	if c.MediaCheckTimeout < 0 {
		return fmt.Errorf("MEDIA_CHECK_TIMEOUT must not be negative, got %v", c.MediaCheckTimeout)
	}

	counts := []struct {
		name  string
		value int
	}{
		{"REFRESH_MAX_CONCURRENT", c.RefreshMaxConcurrent},
		{"RATE_LIMIT_GENERAL", c.RateLimitGeneral},
		{"RATE_LIMIT_LINK", c.RateLimitLink},
	}
	for _, n := range counts {
		if n.value < 1 {
			return fmt.Errorf("%s must be positive, got %d", n.name, n.value)
		}
	}
	return nil
}

func (c *Config) missingRequired() []string {
	required := []struct {
		name  string
		value string
	}{
		{"DATABASE_URL", c.DatabaseURL},
		{"GOOGLE_CLIENT_ID", c.GoogleClientID},
		{"GOOGLE_CLIENT_SECRET", c.GoogleClientSecret},
		{"GOOGLE_REDIRECT_URL", c.GoogleRedirectURL},
		{"SESSION_SECRET", c.SessionSecret},
		{"BASE_URL", c.BaseURL},
		{"TOKEN_ENCRYPTION_KEY", c.TokenEncryptionKey},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	return missing
}
