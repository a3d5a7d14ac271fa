package middleware

import "net/http"

// hstsValue はHTTPS配信時に付与するStrict-Transport-Security。
const hstsValue = "max-age=31536000; includeSubDomains"

// baseSecurityHeaders は全レスポンスに付与するヘッダー。
// 埋め込みはX-Frame-OptionsではなくCSPのframe-ancestorsで制御し、Facebookのアプリ内表示のみ許可する。
var baseSecurityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"Content-Security-Policy", "frame-ancestors 'self' https://www.facebook.com"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
}

// NewSecurityHeadersMiddleware はセキュリティ関連のレスポンスヘッダーを付与するミドルウェアを返す。
// strictTransportがtrue（BASE_URLがhttps）の場合はHSTSも付与する。
func NewSecurityHeadersMiddleware(strictTransport bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range baseSecurityHeaders {
				h.Set(kv[0], kv[1])
			}
			if strictTransport {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			next.ServeHTTP(w, r)
		})
	}
}
