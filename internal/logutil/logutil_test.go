package logutil

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewJSONFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggingCfg{Level: "warn", Format: "json"}, &buf)
	logger.Info("dropped")
	logger.Warn("kept", "user_id", "42")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var rec map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["msg"] != "kept" || rec["user_id"] != "42" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestNewTextDefault(t *testing.T) {
	var buf bytes.Buffer
	New(config.LoggingCfg{}, &buf).Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("unexpected text output %q", buf.String())
	}
}
