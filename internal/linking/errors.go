package linking

import (
	"errors"
	"fmt"
)

// ErrorCode は連携失敗時にリダイレクトのerrorパラメータへ載せるタグ。
type ErrorCode string

const (
	CodeNotAuthenticated    ErrorCode = "not_authenticated"
	CodeNoCode              ErrorCode = "no_code"
	CodeInvalidState        ErrorCode = "invalid_state"
	CodePlatformUnavailable ErrorCode = "platform_unavailable"
	CodeNoPages             ErrorCode = "no_pages"
	CodeNoProfile           ErrorCode = "no_profile"
	CodeStorageFailed       ErrorCode = "storage_failed"
	CodeUnknown             ErrorCode = "unknown"
)

// LinkError は連携フローの失敗を表す。Codeはクライアントに返す粗い分類、
// Errはログ用の詳細。
type LinkError struct {
	Code ErrorCode
	Err  error
}

func (e *LinkError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// CodeOf はエラーに対応するErrorCodeを返す。LinkError以外はunknown。
func CodeOf(err error) ErrorCode {
	var linkErr *LinkError
	if errors.As(err, &linkErr) {
		return linkErr.Code
	}
	return CodeUnknown
}

func linkError(code ErrorCode, err error) *LinkError {
	return &LinkError{Code: code, Err: err}
}
