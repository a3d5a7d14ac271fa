package handler

import "net/http"

// CookieConfig はハンドラーが発行するCookieの共通属性。
type CookieConfig struct {
	Domain string
	Secure bool
}

// set はHttpOnlyかつSameSite=LaxのCookieを設定する。
func (c CookieConfig) set(w http.ResponseWriter, name, value, path string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clear はCookieを削除する。
func (c CookieConfig) clear(w http.ResponseWriter, name, path string) {
	c.set(w, name, "", path, -1)
}
