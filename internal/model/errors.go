// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, account, post, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeUnsupportedPlatform = "UNSUPPORTED_PLATFORM"
	ErrCodePlatformUnavailable = "PLATFORM_UNAVAILABLE"
	ErrCodeNoEntities          = "NO_ENTITIES"
	ErrCodeLinkFailed          = "LINK_FAILED"
	ErrCodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	ErrCodePostNotFound        = "POST_NOT_FOUND"
	ErrCodeInvalidPostStatus   = "INVALID_POST_STATUS"
	ErrCodeInvalidSchedule     = "INVALID_SCHEDULE"
	ErrCodeInvalidMediaURL     = "INVALID_MEDIA_URL"
	ErrCodeEmptyContent        = "EMPTY_CONTENT"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeCSRFTokenInvalid    = "CSRF_TOKEN_INVALID"
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewUnsupportedPlatformError は未対応プラットフォームのエラーを生成する。
func NewUnsupportedPlatformError(platform string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedPlatform,
		Message:  fmt.Sprintf("未対応のプラットフォームです: %s", platform),
		Category: "validation",
		Action:   "facebook、instagram、tiktok のいずれかを指定してください。",
	}
}

// NewPlatformUnavailableError はコネクタが利用可能状態でない場合のエラーを生成する。
func NewPlatformUnavailableError(platform Platform) *APIError {
	return &APIError{
		Code:     ErrCodePlatformUnavailable,
		Message:  fmt.Sprintf("%s 連携は現在利用できません。", platform),
		Category: "account",
		Action:   "しばらく待ってから再度お試しください。解決しない場合は管理者に連絡してください。",
	}
}

// NewNoEntitiesError は連携可能なアカウントが見つからない場合のエラーを生成する。
func NewNoEntitiesError(platform Platform) *APIError {
	msg := "連携可能なアカウントが見つかりませんでした。"
	if platform == PlatformFacebook {
		msg = "管理しているFacebookページが見つかりませんでした。"
	}
	return &APIError{
		Code:     ErrCodeNoEntities,
		Message:  msg,
		Category: "account",
		Action:   "連携したいページやアカウントの管理権限を確認してください。",
	}
}

// NewLinkFailedError はトークン交換などの外部連携失敗エラーを生成する。
func NewLinkFailedError(platform Platform) *APIError {
	return &APIError{
		Code:     ErrCodeLinkFailed,
		Message:  fmt.Sprintf("%s との連携に失敗しました。", platform),
		Category: "account",
		Action:   "もう一度連携をやり直してください。",
	}
}

// NewAccountNotFoundError は連携アカウントが見つからない場合のエラーを生成する。
func NewAccountNotFoundError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  fmt.Sprintf("指定された連携アカウントが見つかりません: %s", accountID),
		Category: "account",
		Action:   "連携アカウント一覧を確認してください。",
	}
}

// NewPostNotFoundError は投稿が見つからない場合のエラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %s", postID),
		Category: "post",
		Action:   "投稿IDを確認してください。",
	}
}

// NewInvalidPostStatusError は不正な状態遷移のエラーを生成する。
func NewInvalidPostStatusError(from, to PostStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPostStatus,
		Message:  fmt.Sprintf("投稿の状態を %q から %q に変更できません。", from, to),
		Category: "validation",
		Action:   "draft、scheduled、published、failed の許可された遷移のみ指定してください。",
	}
}

// NewInvalidScheduleError は予約日時が不正な場合のエラーを生成する。
func NewInvalidScheduleError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSchedule,
		Message:  fmt.Sprintf("予約日時が不正です: %s", reason),
		Category: "validation",
		Action:   "未来の日時をRFC3339形式で指定してください。",
	}
}

// NewInvalidMediaURLError はメディアURLが不正な場合のエラーを生成する。
func NewInvalidMediaURLError(rawURL string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMediaURL,
		Message:  fmt.Sprintf("メディアURLが不正です: %s", rawURL),
		Category: "validation",
		Action:   "公開されている http:// または https:// のURLを指定してください。",
	}
}

// NewEmptyContentError は投稿本文が空の場合のエラーを生成する。
func NewEmptyContentError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyContent,
		Message:  "投稿本文が空です。",
		Category: "validation",
		Action:   "本文を入力してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewCSRFTokenInvalidError はCSRFトークン検証に失敗した場合のエラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitExceededError はレート制限超過のエラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
