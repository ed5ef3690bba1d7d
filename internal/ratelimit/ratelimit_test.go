package ratelimit

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestDebugDropsBeyondBurst(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := New(base, 0, 2)

	l.Debug("first")
	l.Debug("second")
	l.Debug("third, should be dropped")

	out := buf.String()
	if !strings.Contains(out, "first") || !strings.Contains(out, "second") {
		t.Fatalf("expected first two messages logged, got: %s", out)
	}
	if strings.Contains(out, "third") {
		t.Fatalf("expected third message to be rate-limited away, got: %s", out)
	}
}

func TestDebugAllowsWhenUnlimited(t *testing.T) {
	l := New(slog.New(slog.NewTextHandler(io.Discard, nil)), 1e9, 1e6)
	for i := 0; i < 100; i++ {
		l.Debug("message")
	}
}
