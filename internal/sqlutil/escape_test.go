package sqlutil

import (
	"testing"
	"time"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"plain", "plain"},
		{"O'Brien", "O''Brien"},
		{`a\b`, `a\\b`},
		{"nul\x00byte", "nulbyte"},
		{"line1\nline2\r\tx", `line1\nline2\r\tx`},
		{`'; DROP TABLE logs; --`, `''; DROP TABLE logs; --`},
	}
	for _, tt := range tests {
		if got := Escape(tt.input); got != tt.want {
			t.Errorf("Escape(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSafeInt(t *testing.T) {
	if got := SafeInt(0, 1, 500); got != 1 {
		t.Errorf("SafeInt low = %d", got)
	}
	if got := SafeInt(10000, 1, 500); got != 500 {
		t.Errorf("SafeInt high = %d", got)
	}
	if got := SafeInt(42, 1, 500); got != 42 {
		t.Errorf("SafeInt mid = %d", got)
	}
}

func TestSafeUUID(t *testing.T) {
	got, ok := SafeUUID(" 6F9619FF-8B86-D011-B42D-00C04FC964FF ")
	if !ok || got != "6f9619ff-8b86-d011-b42d-00c04fc964ff" {
		t.Errorf("SafeUUID = %q, %v", got, ok)
	}
	if _, ok := SafeUUID("x' OR '1'='1"); ok {
		t.Error("SafeUUID accepted an injection string")
	}
}

func TestSafeWhitelist(t *testing.T) {
	allowed := []string{"Information", "Warning", "Error"}
	if got, ok := SafeWhitelist("warning", allowed); !ok || got != "Warning" {
		t.Errorf("SafeWhitelist = %q, %v", got, ok)
	}
	if _, ok := SafeWhitelist("Critical", allowed); ok {
		t.Error("SafeWhitelist accepted an unknown value")
	}
}

func TestInterpolate(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	got := Interpolate("SELECT * FROM logs WHERE a = ? AND b > ? AND c = '?' AND d < ? AND e = ?",
		[]any{"it's", 5, ts, nil})
	want := "SELECT * FROM logs WHERE a = E'it''s' AND b > 5 AND c = '?' AND d < E'2026-03-04 05:06:07.000000' AND e = NULL"
	if got != want {
		t.Errorf("Interpolate =\n  %q\nwant\n  %q", got, want)
	}
}

func TestRedact(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	got := Redact("SELECT * FROM projects WHERE api_key = ? AND created_at > ? AND n = ? AND body = ? AND x = ?",
		[]any{"bk_live_secret", ts, 5, []byte("payload"), nil})
	want := "SELECT * FROM projects WHERE api_key = '<redacted>' AND created_at > E'2026-03-04 05:06:07.000000' AND n = 5 AND body = '<redacted>' AND x = NULL"
	if got != want {
		t.Errorf("Redact =\n  %q\nwant\n  %q", got, want)
	}
}
