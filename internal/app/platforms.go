package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/socialhub/internal/config"
	"github.com/hitoshi/socialhub/internal/linking"
	"github.com/hitoshi/socialhub/internal/model"
)

// newPlatformRegistry は連携先ごとのLoaderを登録したRegistryを返す。
// 資格情報が揃っていないプラットフォームもLoaderは登録し、読み込み時にerror状態となる。
func newPlatformRegistry(cfg *config.Config, client *http.Client) *linking.Registry {
	registry := linking.NewRegistry()

	registry.Register(model.PlatformFacebook, func(ctx context.Context) (linking.Connector, error) {
		if err := requireCredentials("FACEBOOK", cfg.Facebook); err != nil {
			return nil, err
		}
		return linking.NewFacebookConnector(linking.FacebookConfig{
			AppID:       cfg.Facebook.ID(),
			AppSecret:   cfg.Facebook.Secret(),
			RedirectURL: cfg.Facebook.RedirectURL,
			HTTPClient:  client,
		}), nil
	})

	registry.Register(model.PlatformInstagram, func(ctx context.Context) (linking.Connector, error) {
		if err := requireCredentials("INSTAGRAM", cfg.Instagram); err != nil {
			return nil, err
		}
		return linking.NewInstagramConnector(linking.InstagramConfig{
			ClientID:     cfg.Instagram.ID(),
			ClientSecret: cfg.Instagram.Secret(),
			RedirectURL:  cfg.Instagram.RedirectURL,
			HTTPClient:   client,
		}), nil
	})

	registry.Register(model.PlatformTikTok, func(ctx context.Context) (linking.Connector, error) {
		if err := requireCredentials("TIKTOK", cfg.TikTok); err != nil {
			return nil, err
		}
		return linking.NewTikTokConnector(linking.TikTokConfig{
			ClientKey:    cfg.TikTok.ID(),
			ClientSecret: cfg.TikTok.Secret(),
			RedirectURL:  cfg.TikTok.RedirectURL,
			HTTPClient:   client,
		}), nil
	})

	return registry
}

func requireCredentials(prefix string, creds config.PlatformCredentials) error {
	if creds.Configured() {
		return nil
	}
	return fmt.Errorf("%s credentials are not configured: missing %s",
		prefix, strings.Join(creds.MissingFields(), ", "))
}
