package logger

import (
	"log/slog"
	"testing"
)

func TestInitFailureFallsBackToStderr(t *testing.T) {
	// /dev/null is not a directory, so opening a file beneath it fails.
	err := Init(Config{OutputPaths: []string{"/dev/null/agentpay.log"}})
	if err == nil {
		t.Fatal("expected init failure for unwritable output path")
	}

	if L() == nil {
		t.Fatal("L must never return nil")
	}
	if Audit() == nil {
		t.Fatal("Audit must never return nil")
	}
	if Named("component") == nil {
		t.Fatal("Named must never return nil")
	}
	// Must not panic.
	L().Info("still usable after failed init")
	Named("component").Warn("still usable after failed init")
}

func TestInitReportsTheRecordedError(t *testing.T) {
	// The failed Init above consumed the once; later calls surface the same
	// error instead of silently reconfiguring.
	if err := Init(Config{}); err == nil {
		t.Fatal("expected the recorded init error to persist")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
