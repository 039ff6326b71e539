package logger

import (
	"context"
	"log/slog"
	"strings"
	"testing"
)

// TestFromContext 验证 context 注入/提取日志器。
func TestFromContext(t *testing.T) {
	base := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	ctx := WithContext(context.Background(), base)

	if got := FromContext(ctx); got != base {
		t.Errorf("FromContext returned %v, want injected logger", got)
	}
	if got := FromContext(context.Background()); got == nil {
		t.Error("FromContext without injection returned nil, want default logger")
	}
}

// TestMultiHandlerFanOut 验证 MultiHandler 将记录分发到所有 handler。
func TestMultiHandlerFanOut(t *testing.T) {
	var a, b strings.Builder
	multi := NewMultiHandler(
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	l := slog.New(multi)

	l.Info("info line")
	l.Warn("warn line")

	if !strings.Contains(a.String(), "info line") || !strings.Contains(a.String(), "warn line") {
		t.Errorf("handler a missing records: %q", a.String())
	}
	if strings.Contains(b.String(), "info line") {
		t.Errorf("handler b received info record below its level: %q", b.String())
	}
	if !strings.Contains(b.String(), "warn line") {
		t.Errorf("handler b missing warn record: %q", b.String())
	}
}

// TestApplyAttrMapping 验证结构化字段常量映射到 LogEntry 列。
func TestApplyAttrMapping(t *testing.T) {
	var e LogEntry
	applyAttr(&e, slog.String(FieldThreadID, "42"))
	applyAttr(&e, slog.String(FieldSessionID, "sess-1"))
	applyAttr(&e, slog.String(FieldEventType, "response.text.delta"))
	applyAttr(&e, slog.Int("extra_key", 7))

	if e.ThreadID != "42" {
		t.Errorf("ThreadID = %q, want 42", e.ThreadID)
	}
	if e.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", e.SessionID)
	}
	if e.EventType != "response.text.delta" {
		t.Errorf("EventType = %q, want response.text.delta", e.EventType)
	}
	if v, ok := e.Extra["extra_key"]; !ok || v.(int64) != 7 {
		t.Errorf("Extra[extra_key] = %v, want 7", v)
	}
}
