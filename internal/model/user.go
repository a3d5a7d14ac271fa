package model

import "time"

// User はダッシュボードの利用ユーザーを表す。
// 連携アカウント（LinkedAccount）の所有者となる。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity はサインインに使用する外部IdPとの紐付け情報を表す。
// SNS連携（LinkedAccount）とは別物で、ログイン用途のみに使う。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
