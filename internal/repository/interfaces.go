// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/socialhub/internal/model"
)

// ErrNotFound は更新対象のレコードが存在しない場合に返される。
// 検索系メソッドは見つからない場合にエラーではなくnilを返す。
var ErrNotFound = errors.New("record not found")

// ErrConflict は一意制約に違反して作成できなかった場合に返される。
var ErrConflict = errors.New("record already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、linked_accounts、postsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository はサインイン用IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// LinkedAccountRepository は連携アカウントの永続化インターフェース。
// トークンは実装側で暗号化して保存し、読み出し時に復号する。
type LinkedAccountRepository interface {
	// Upsert は (owner_id, platform, external_account_id) をキーに連携アカウントをUPSERTする。
	// 既存レコードはトークン・表示名・期限を上書きし、metadataはキー単位でマージする。
	// 保存後のレコードと、新規作成だったかどうかを返す。
	Upsert(ctx context.Context, account *model.LinkedAccount) (*model.LinkedAccount, bool, error)

	// FindByID は所有者が一致する連携アカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, ownerID, id string) (*model.LinkedAccount, error)

	// ListByOwner は所有者の連携アカウント一覧をplatform, display_name順に返す。
	ListByOwner(ctx context.Context, ownerID string) ([]*model.LinkedAccount, error)

	// DeleteByIDAndOwner は所有者が一致する連携アカウントを削除する。
	// 削除した場合はtrueを返す。該当なしはエラーではない。
	DeleteByIDAndOwner(ctx context.Context, id, ownerID string) (bool, error)

	// ListRefreshDue はトークン更新が必要な連携アカウントを取得する。
	// 対象: platformsに含まれ、refresh_tokenを持ち、token_expires_at < before で、
	// metadataにrefresh_errorが記録されていないもの。
	ListRefreshDue(ctx context.Context, platforms []model.Platform, before time.Time, limit int) ([]*model.LinkedAccount, error)

	// UpdateTokens はトークン更新結果を保存する。対象がない場合はErrNotFoundを返す。
	UpdateTokens(ctx context.Context, account *model.LinkedAccount) error

	// MergeMetadata はmetadataにキーを追加・上書きする。
	MergeMetadata(ctx context.Context, id string, metadata model.AccountMetadata) error
}

// PostRepository は投稿データの永続化インターフェース。
type PostRepository interface {
	// Create は投稿を作成する。
	Create(ctx context.Context, post *model.Post) error

	// FindByID は所有者が一致する投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, ownerID, id string) (*model.Post, error)

	// ListByOwner は所有者の投稿を連携アカウント情報付きで返す。
	// from/toがゼロ値でない場合、COALESCE(scheduled_for, created_at) で期間を絞り込む。
	ListByOwner(ctx context.Context, ownerID string, from, to time.Time) ([]model.PostWithAccount, error)

	// Update は投稿の本文・メディア・状態・日時を更新する。対象がない場合はErrNotFoundを返す。
	Update(ctx context.Context, post *model.Post) error

	// DeleteByIDAndOwner は所有者が一致する投稿を削除する。削除した場合はtrueを返す。
	DeleteByIDAndOwner(ctx context.Context, id, ownerID string) (bool, error)
}

// TokenSealer は保存前のトークン暗号化と読み出し時の復号を行う。
// security.TokenCipherが実装する。
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}
