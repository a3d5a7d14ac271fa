package model

import (
	"fmt"
	"time"
)

// Platform は連携先SNSプラットフォームを表す。
type Platform string

const (
	// PlatformFacebook はFacebookページ連携。1回の連携で複数ページを登録しうる。
	PlatformFacebook Platform = "facebook"
	// PlatformInstagram はInstagramプロフィール連携。
	PlatformInstagram Platform = "instagram"
	// PlatformTikTok はTikTokプロフィール連携。リフレッシュトークンを発行する。
	PlatformTikTok Platform = "tiktok"
)

// Platforms はサポートする全プラットフォームを定義順に返す。
func Platforms() []Platform {
	return []Platform{PlatformFacebook, PlatformInstagram, PlatformTikTok}
}

// ParsePlatform は文字列をPlatformに変換する。
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformFacebook, PlatformInstagram, PlatformTikTok:
		return Platform(s), nil
	default:
		return "", fmt.Errorf("unsupported platform: %q", s)
	}
}

// AccountMetadata はプラットフォーム固有の付加情報。
// キーは追加のみで、再連携時に既存キーが削除されることはない。
type AccountMetadata map[string]any

// Merge はotherのキーをmに上書き追加した新しいマップを返す。
func (m AccountMetadata) Merge(other AccountMetadata) AccountMetadata {
	merged := make(AccountMetadata, len(m)+len(other))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// LinkedAccount はOAuth連携済みの外部アカウント（またはFacebookページ）1件を表す。
// (OwnerID, Platform, ExternalAccountID) の組は一意。
type LinkedAccount struct {
	ID                string
	OwnerID           string
	Platform          Platform
	ExternalAccountID string
	DisplayName       string

	// AccessToken と RefreshToken は平文。永続化時にのみ暗号化される。
	// APIレスポンスには絶対に含めないこと。
	AccessToken      string
	RefreshToken     string
	TokenExpiresAt   *time.Time
	RefreshExpiresAt *time.Time

	Metadata  AccountMetadata
	LinkedAt  time.Time
	UpdatedAt time.Time
}

// MaxDisplayNameLength はdisplay_name列（VARCHAR(255)）に保存できる最大文字数。
const MaxDisplayNameLength = 255

// MetadataKeyRefreshError はトークン更新が恒久的に失敗した理由を記録するmetadataのキー。
// 記録されたアカウントは再連携されるまで更新対象から外れる。
const MetadataKeyRefreshError = "refresh_error"

// NeedsRelink はトークン更新に失敗し再連携が必要かを返す。
func (a *LinkedAccount) NeedsRelink() bool {
	_, ok := a.Metadata[MetadataKeyRefreshError]
	return ok
}

// HasRefreshToken はリフレッシュトークンを保持しているかを返す。
func (a *LinkedAccount) HasRefreshToken() bool {
	return a.RefreshToken != ""
}
