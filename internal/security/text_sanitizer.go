// Package security はアプリケーションのセキュリティ機能を提供する。
//
// 連携先から取得した表示名や投稿本文などの外部入力を平文化し、
// 投稿メディアURLのSSRF検証、トークンの暗号化、OAuth stateの署名を行う。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は外部入力のテキストからHTMLを除去する。
// 表示名と投稿本文はプレーンテキストとして扱うため、タグは一切許可しない。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、エスケープされた実体参照を元の文字に戻す。
// 前後の空白は除去する。同一入力に対して常に同一出力を返す。
func (s *TextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
