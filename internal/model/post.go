package model

import "time"

// PostStatus は予約投稿の状態を表す。
type PostStatus string

const (
	// PostStatusDraft は下書き。
	PostStatusDraft PostStatus = "draft"
	// PostStatusScheduled は予約済み。scheduled_forが必須。
	PostStatusScheduled PostStatus = "scheduled"
	// PostStatusPublished は公開済み。
	PostStatusPublished PostStatus = "published"
	// PostStatusFailed は公開失敗。
	PostStatusFailed PostStatus = "failed"
)

// postTransitions は許可される状態遷移。
var postTransitions = map[PostStatus][]PostStatus{
	PostStatusDraft:     {PostStatusScheduled},
	PostStatusScheduled: {PostStatusDraft, PostStatusPublished, PostStatusFailed},
	PostStatusFailed:    {PostStatusDraft, PostStatusScheduled},
}

// CanTransitionTo は現在の状態からnextへ遷移可能かを返す。
// 同一状態への遷移は常に許可する。
func (s PostStatus) CanTransitionTo(next PostStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range postTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid は定義済みの状態かを返す。
func (s PostStatus) Valid() bool {
	switch s {
	case PostStatusDraft, PostStatusScheduled, PostStatusPublished, PostStatusFailed:
		return true
	}
	return false
}

// Post は連携アカウントに紐づく投稿（下書き・予約投稿）を表す。
type Post struct {
	ID              string
	OwnerID         string
	LinkedAccountID string
	Content         string
	MediaURLs       []string
	Status          PostStatus
	ScheduledFor    *time.Time
	PublishedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PostWithAccount は投稿と連携先アカウントの表示情報を結合したモデル。
// カレンダー表示用。
type PostWithAccount struct {
	Post
	Platform    Platform
	AccountName string
}
