package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	internalaudit "github.com/sitebook/authcore/internal/audit"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func TestAuditDispatcherDisabledIsNil(t *testing.T) {
	d := internalaudit.NewDispatcher(internalaudit.Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), AuditEvent{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestAuditDispatcherDropsWhenFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	start := time.Now()
	for _, name := range []string{"e1", "e2", "e3"} {
		d.Emit(context.Background(), AuditEvent{EventType: name})
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit with DropIfFull")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected at least one dropped event")
	}
}

func TestAuditDispatcherCloseDelivers(t *testing.T) {
	sink := NewChannelSink(8)
	d := internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    true,
		BufferSize: 8,
	}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: "login_success"})
	}
	d.Close()
	d.Close()

	if got := len(sink.Events()); got != 5 {
		t.Fatalf("expected 5 delivered events, got %d", got)
	}
	d.Emit(context.Background(), AuditEvent{EventType: "late"})
	if got := len(sink.Events()); got != 5 {
		t.Fatalf("expected emit after close to be ignored, got %d", got)
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{EventType: "logout", UserID: "u1", Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: "login_failure", Error: "invalid_credentials"})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev AuditEvent
	if err := json.Unmarshal(lines[1], &ev); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if ev.EventType != "login_failure" || ev.Error != "invalid_credentials" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), AuditEvent{EventType: "login_success", UserID: "u1", Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: "refresh_reuse_detected", UserID: "u1", IP: "198.51.100.7", Error: "invalid_token"})

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("unexpected levels %v %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].LoggerName != "audit" {
		t.Fatalf("expected audit logger, got %q", entries[1].LoggerName)
	}
	fields := entries[1].ContextMap()
	if fields["ip"] != "198.51.100.7" || fields["error_code"] != "invalid_token" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestAuditErrorCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{ErrInvalidCredentials, auditErrInvalidCredentials},
		{ErrInvalidToken, auditErrInvalidToken},
		{ErrUserNotFound, auditErrNotFound},
		{ErrStorageUnavailable, auditErrUnavailable},
		{errors.Join(ErrStorageUnavailable, errors.New("x")), auditErrUnavailable},
		{errors.New("boom"), auditErrInternal},
	}
	for _, tc := range cases {
		if got := auditErrorCode(tc.err); got != tc.want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
