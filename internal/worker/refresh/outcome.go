package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/socialhub/internal/linking"
	"github.com/hitoshi/socialhub/internal/model"
)

// Outcome はトークン更新1件の結果の分類。
type Outcome int

const (
	// OutcomeRefreshed は更新成功。
	OutcomeRefreshed Outcome = iota
	// OutcomeRevoked はリフレッシュトークンが無効（400/401またはTikTokの失効コード）。再連携が必要。
	OutcomeRevoked
	// OutcomeRetry は一時的な失敗（429/5xx/タイムアウト等）。次のサイクルで再試行する。
	OutcomeRetry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeRevoked:
		return "revoked"
	default:
		return "retry"
	}
}

// MetadataKeyRefreshError は更新不能になった理由を記録するmetadataのキー。
const MetadataKeyRefreshError = model.MetadataKeyRefreshError

// Classify はRefresherのエラーを分類する。
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeRefreshed
	case errors.Is(err, context.Canceled):
		return OutcomeRetry
	case linking.IsPermanent(err):
		return OutcomeRevoked
	default:
		return OutcomeRetry
	}
}

// ApplyGrant は更新結果を連携アカウントに反映する。
// 応答に新しいリフレッシュトークンが含まれない場合は既存のものを使い続ける。
func ApplyGrant(account *model.LinkedAccount, grant *linking.Grant) {
	account.AccessToken = grant.AccessToken
	account.TokenExpiresAt = grant.ExpiresAt
	if grant.RefreshToken != "" {
		account.RefreshToken = grant.RefreshToken
	}
	if grant.RefreshExpiresAt != nil {
		account.RefreshExpiresAt = grant.RefreshExpiresAt
	}
}

// RevokedMetadata は更新不能を記録するmetadataを返す。
func RevokedMetadata(reason string, now time.Time) model.AccountMetadata {
	return model.AccountMetadata{
		MetadataKeyRefreshError: reason,
		"refresh_failed_at":     now.UTC().Format(time.RFC3339),
	}
}
