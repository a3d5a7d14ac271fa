package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/socialhub/internal/model"
)

// TestWriteErrorResponse_DomainErrors はドメインエラーがステータスとカテゴリ付きで書き込まれることを検証する。
func TestWriteErrorResponse_DomainErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		apiErr     *model.APIError
		category   string
	}{
		{"Unauthorized", http.StatusUnauthorized, model.NewUnauthorizedError(), "auth"},
		{"CSRF", http.StatusForbidden, model.NewCSRFTokenInvalidError(), "auth"},
		{"InvalidMedia", http.StatusBadRequest, model.NewInvalidMediaURLError("http://127.0.0.1/a.png"), "validation"},
		{"AccountNotFound", http.StatusNotFound, model.NewAccountNotFoundError("acct-1"), "account"},
		{"PostNotFound", http.StatusNotFound, model.NewPostNotFoundError("post-1"), "post"},
		{"PlatformUnavailable", http.StatusServiceUnavailable, model.NewPlatformUnavailableError(model.PlatformTikTok), "account"},
		{"RateLimited", http.StatusTooManyRequests, model.NewRateLimitExceededError(), "system"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			WriteErrorResponse(w, tt.statusCode, tt.apiErr)

			resp := w.Result()
			if resp.StatusCode != tt.statusCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.statusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", cc)
			}

			var body ErrorResponseBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body != NewErrorResponseBody(tt.apiErr) {
				t.Errorf("body = %+v, want %+v", body, NewErrorResponseBody(tt.apiErr))
			}
			if body.Category != tt.category {
				t.Errorf("category = %q, want %q", body.Category, tt.category)
			}
			if body.Action == "" {
				t.Error("action should not be empty")
			}
		})
	}
}

// TestWriteInternalServerError は500が汎用メッセージで返ることを検証する。
func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	var raw map[string]string
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	for _, field := range []string{"code", "message", "category", "action"} {
		if raw[field] == "" {
			t.Errorf("field %q should be present and non-empty", field)
		}
	}
	if raw["code"] != "INTERNAL_ERROR" || raw["category"] != "system" {
		t.Errorf("code/category = %q/%q, want INTERNAL_ERROR/system", raw["code"], raw["category"])
	}
}
