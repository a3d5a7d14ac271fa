// Package linking はSNSアカウント連携（OAuth認可コードフロー）を提供する。
//
// プラットフォームごとのConnectorがトークン交換と連携対象（ページ・プロフィール）の
// 取得を行い、Serviceが連携アカウントとして永続化する。
package linking

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/socialhub/internal/model"
)

// ErrNoAccessToken はトークンエンドポイントの応答にアクセストークンが含まれない場合に返される。
var ErrNoAccessToken = errors.New("token response has no access token")

// Grant は認可コード交換（またはトークン更新）で得られた資格情報。
type Grant struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        *time.Time
	RefreshExpiresAt *time.Time
	// Subject はトークン応答にユーザーIDが含まれる場合の値（TikTokのopen_id等）。
	Subject string
	// Scope は許可された権限。連携アカウントのmetadata（granted_scope）に記録する。
	Scope string
}

// Entity は1回の連携で見つかった連携対象1件。
// Facebookではページごとに固有のトークンを持つ。
type Entity struct {
	ExternalID       string
	DisplayName      string
	AccessToken      string
	RefreshToken     string
	TokenExpiresAt   *time.Time
	RefreshExpiresAt *time.Time
	Metadata         model.AccountMetadata
}

// Connector は連携先プラットフォームとのOAuthのやり取りを担う。
type Connector interface {
	Platform() model.Platform
	// AuthCodeURL は同意画面へのURLを返す。
	AuthCodeURL(state string) string
	// Exchange は認可コードをトークンに交換する。サーバー間通信を1回だけ行う。
	Exchange(ctx context.Context, code string) (*Grant, error)
	// Discover は取得したトークンで連携対象を列挙する。
	Discover(ctx context.Context, grant *Grant) ([]Entity, error)
}

// Refresher はリフレッシュトークンによるトークン更新に対応するConnector。
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
}

// LongLivedExchanger はクライアント側SDKで得た短期トークンを長期トークンに交換できるConnector。
type LongLivedExchanger interface {
	ExchangeLongLived(ctx context.Context, shortLivedToken string) (*Grant, error)
}

// expiryFrom は有効期間（秒）から期限時刻を求める。0以下ならnil。
func expiryFrom(now time.Time, seconds int64) *time.Time {
	if seconds <= 0 {
		return nil
	}
	t := now.Add(time.Duration(seconds) * time.Second)
	return &t
}
