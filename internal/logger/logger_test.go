package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// restoreDefault はテスト終了時にグローバルロガーを元に戻す。
func restoreDefault(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_JSONCarriesStandardFields(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, FormatJSON, slog.LevelInfo).Warn("token refresh failed",
		slog.String("account_id", "la-456"),
		slog.String("platform", "tiktok"),
		slog.Int("http_status", 401),
	)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	for key, want := range map[string]any{
		"msg":         "token refresh failed",
		"level":       "WARN",
		"account_id":  "la-456",
		"platform":    "tiktok",
		"http_status": float64(401),
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %v", key, entry[key], want)
		}
	}
	if _, ok := entry["time"]; !ok {
		t.Error("time field missing")
	}
}

func TestNew_FormatSelection(t *testing.T) {
	tests := []struct {
		format   string
		wantJSON bool
	}{
		{format: FormatJSON, wantJSON: true},
		{format: "", wantJSON: true},
		{format: "text", wantJSON: true},
		{format: FormatPretty, wantJSON: false},
		{format: "PRETTY", wantJSON: false},
	}

	for _, tt := range tests {
		t.Run("format="+tt.format, func(t *testing.T) {
			withoutColor(t)
			var buf bytes.Buffer
			New(&buf, tt.format, slog.LevelInfo).Info("linked", slog.String("platform", "facebook"))

			isJSON := json.Valid(bytes.TrimSpace(buf.Bytes()))
			if isJSON != tt.wantJSON {
				t.Errorf("JSON output = %v, want %v (raw %q)", isJSON, tt.wantJSON, buf.String())
			}
		})
	}
}

func TestSetupDefaultWithFormat_LevelFollowsFormat(t *testing.T) {
	tests := []struct {
		format    string
		wantDebug bool
	}{
		{format: FormatJSON, wantDebug: false},
		{format: FormatPretty, wantDebug: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			restoreDefault(t)
			withoutColor(t)
			var buf bytes.Buffer
			SetupDefaultWithFormat(&buf, tt.format)

			slog.Debug("discovered entities", slog.Int("count", 3))

			if got := buf.Len() > 0; got != tt.wantDebug {
				t.Errorf("debug emitted = %v, want %v", got, tt.wantDebug)
			}
		})
	}
}

func TestSetupDefault_UsesJSON(t *testing.T) {
	restoreDefault(t)
	var buf bytes.Buffer
	SetupDefault(&buf)

	slog.Info("server starting", slog.String("port", "8080"))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["port"] != "8080" {
		t.Errorf("entries = %v, want one entry with port=8080", entries)
	}
}
