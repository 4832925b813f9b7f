package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{gate: make(chan struct{})}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: false}, sink)
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{Type: "e1"})
	d.Close()
	if sink.count.Load() != 0 || d.Dropped() != 0 {
		t.Fatal("expected disabled dispatcher to do nothing")
	}
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 64}, sink)
	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{Type: "e"})
	}
	d.Close()

	if got := sink.count.Load(); got != 50 {
		t.Fatalf("expected 50 delivered events, got %d", got)
	}
	if d.Delivered() != 50 {
		t.Fatalf("expected Delivered()=50, got %d", d.Delivered())
	}
}

func TestBufferFullDropIfFullDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{Type: "e1"})
	d.Emit(context.Background(), Event{Type: "e2"})

	start := time.Now()
	d.Emit(context.Background(), Event{Type: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestBufferFullBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{Type: "e1"})
	d.Emit(context.Background(), Event{Type: "e2"})

	done := make(chan struct{})
	go func() {
		d.Emit(context.Background(), Event{Type: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestBlockedEmitGivesUpWithContext(t *testing.T) {
	sink := newGateSink()
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{Type: "e1"})
	d.Emit(context.Background(), Event{Type: "e2"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d.Emit(ctx, Event{Type: "e3"})

	if d.Dropped() != 1 {
		t.Fatalf("expected cancelled emit to count as dropped, got %d", d.Dropped())
	}
}

func TestCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, DropIfFull: true}, &countingSink{})

	d.Emit(context.Background(), Event{Type: "e1"})
	d.Close()
	d.Close()
	d.Emit(context.Background(), Event{Type: "e2"})

	if d.Delivered() != 1 {
		t.Fatalf("expected 1 delivered event, got %d", d.Delivered())
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Type:      "refresh_success",
		Subject:   "u1",
		SessionID: "s1",
		IP:        "127.0.0.1",
		Success:   true,
	})
	sink.Emit(context.Background(), Event{Type: "logout_session", Subject: "u1"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if got["type"] != "refresh_success" || got["subject"] != "u1" || got["session_id"] != "s1" {
		t.Fatalf("unexpected fields: %v", got)
	}
	if _, ok := got["error"]; ok {
		t.Fatal("expected empty error to be omitted")
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), Event{Type: "refresh_success", Subject: "u1", Success: true})
	sink.Emit(context.Background(), Event{Type: "refresh_reuse_detected", Subject: "u1", Error: "token_revoked"})

	out := buf.String()
	if !strings.Contains(out, `"level":"INFO"`) || !strings.Contains(out, `"type":"refresh_success"`) {
		t.Fatalf("expected INFO success record, got %s", out)
	}
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, `"error":"token_revoked"`) {
		t.Fatalf("expected WARN failure record, got %s", out)
	}
}
