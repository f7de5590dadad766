package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type collector struct {
	mu     sync.Mutex
	events []string
}

func (c *collector) emit(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, text)
	return nil
}

func (c *collector) joined() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.events, "")
}

func TestRunPreservesBytesAndOrder(t *testing.T) {
	pr, pw := io.Pipe()
	flow := NewFlowControl(0)
	var running atomic.Bool
	running.Store(true)
	var col collector

	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), pr, flow, &running, col.emit, Config{}) }()

	var want bytes.Buffer
	payload := []byte("line one\nunicode 🌍 ✓\n")
	for i := 0; i < 50; i++ {
		want.Write(payload)
		// Split at every offset so code points straddle writes.
		cut := i % len(payload)
		if _, err := pw.Write(payload[:cut]); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := pw.Write(payload[cut:]); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = pw.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("pump did not finish")
	}
	if got := col.joined(); got != want.String() {
		t.Fatalf("output mismatch: got %d bytes want %d", len(got), want.Len())
	}
	if flow.Pending() != want.Len() {
		t.Fatalf("expected pending %d, got %d", want.Len(), flow.Pending())
	}
}

type endlessReader struct{ reads atomic.Int64 }

func (r *endlessReader) Read(p []byte) (int, error) {
	r.reads.Add(1)
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}

func TestRunBackpressureAndRecovery(t *testing.T) {
	src := &endlessReader{}
	flow := NewFlowControl(32 << 10)
	var running atomic.Bool
	running.Store(true)
	var emitted atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, src, flow, &running, func(text string) error {
			emitted.Add(int64(len(text)))
			return nil
		}, Config{StopCheck: time.Hour})
	}()

	waitFor(t, func() bool { return flow.Blocked() })
	time.Sleep(20 * time.Millisecond)
	stalled := src.reads.Load()
	time.Sleep(30 * time.Millisecond)
	if src.reads.Load() != stalled {
		t.Fatalf("reader kept reading while over budget")
	}
	// Budget plus the crossing read and the queued reads at most.
	if limit := int64(flow.Max() + DefaultReadBufferSize*18); emitted.Load() > limit {
		t.Fatalf("emitted %d bytes beyond limit %d", emitted.Load(), limit)
	}

	flow.Ack(flow.Pending())
	waitFor(t, func() bool { return src.reads.Load() > stalled })

	running.Store(false)
	flow.Ack(flow.Max())
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pump did not stop after running cleared")
	}
	if flow.Pending() < 0 {
		t.Fatalf("pending went negative")
	}
}

func TestRunStopsWhenSinkGone(t *testing.T) {
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()
	var running atomic.Bool
	running.Store(true)
	gone := errors.New("renderer gone")
	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), pr, NewFlowControl(0), &running, func(string) error { return gone }, Config{})
	}()
	if _, err := pw.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, gone) {
			t.Fatalf("expected sink error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pump did not stop")
	}
}

func TestRunCoalescesReadsWithinWindow(t *testing.T) {
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()
	var running atomic.Bool
	running.Store(true)
	var col collector
	go func() {
		_ = Run(context.Background(), pr, NewFlowControl(0), &running, col.emit, Config{Window: 300 * time.Millisecond})
	}()

	var want strings.Builder
	for i := 0; i < 40; i++ {
		line := fmt.Sprintf("row %d\n", i)
		want.WriteString(line)
		if _, err := pw.Write([]byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	waitFor(t, func() bool { return col.joined() != "" })
	col.mu.Lock()
	events := append([]string(nil), col.events...)
	col.mu.Unlock()
	if len(events) != 1 || events[0] != want.String() {
		t.Fatalf("expected one coalesced event, got %d: %q", len(events), events)
	}

	if _, err := pw.Write([]byte("later")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool { return strings.HasSuffix(col.joined(), "later") })
	col.mu.Lock()
	defer col.mu.Unlock()
	if len(col.events) != 2 {
		t.Fatalf("expected a second window, got %d events", len(col.events))
	}
}

func TestAckWakesBlockedReader(t *testing.T) {
	src := &endlessReader{}
	flow := NewFlowControl(1 << 10)
	var running atomic.Bool
	running.Store(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = Run(ctx, src, flow, &running, func(string) error { return nil }, Config{Window: time.Millisecond, StopCheck: time.Hour})
	}()

	waitFor(t, func() bool { return flow.Blocked() })
	time.Sleep(20 * time.Millisecond)
	stalled := src.reads.Load()
	start := time.Now()
	flow.Ack(flow.Pending())
	waitFor(t, func() bool { return src.reads.Load() > stalled })
	if waited := time.Since(start); waited > time.Second {
		t.Fatalf("reader resumed after %v", waited)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met")
}
