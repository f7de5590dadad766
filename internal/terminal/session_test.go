//go:build !windows

package terminal

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/internal/eventtest"
	"pkt.systems/cortex/schema"
)

func newTestManager(t *testing.T) (*Manager, *core.Registry, *eventtest.Recorder) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	reg := core.NewRegistry(nil)
	rec := eventtest.NewRecorder()
	mgr := NewManager(Config{DefaultShell: "/bin/sh"}, reg, rec, nil)
	t.Cleanup(func() { reg.Drain(context.Background(), time.Second) })
	return mgr, reg, rec
}

func outputFor(events []schema.Event, id schema.SessionID) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Topic != schema.TopicTerminalOutput {
			continue
		}
		out, ok := ev.Payload.(schema.TerminalOutputEvent)
		if ok && out.ID == id {
			b.WriteString(out.Data)
		}
	}
	return b.String()
}

func TestTerminalEchoAndClose(t *testing.T) {
	mgr, reg, rec := newTestManager(t)
	ctx := context.Background()
	info, err := mgr.Create(ctx, Options{Cwd: t.TempDir()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if info.Cols != 80 || info.Rows != 24 {
		t.Fatalf("expected default size 80x24, got %dx%d", info.Cols, info.Rows)
	}
	if info.Status != schema.TerminalRunning || info.Pid == 0 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if err := mgr.Write(info.ID, "echo hi\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	rec.Wait(t, 5*time.Second, "echo output", func(events []schema.Event) bool {
		return strings.Count(outputFor(events, info.ID), "hi") >= 2
	})

	if err := mgr.Close(ctx, info.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	events := rec.Wait(t, 2*time.Second, "closed status", func(events []schema.Event) bool {
		for _, ev := range events {
			if st, ok := ev.Payload.(schema.TerminalStatusEvent); ok && st.ID == info.ID {
				return true
			}
		}
		return false
	})
	if events[0].Topic != schema.TopicTerminalCreated {
		t.Fatalf("expected created event first, got %s", events[0].Topic)
	}
	var statuses []schema.TerminalStatusEvent
	for _, payload := range rec.Topic(schema.TopicTerminalStatus) {
		statuses = append(statuses, payload.(schema.TerminalStatusEvent))
	}
	if len(statuses) != 1 || statuses[0].Status != schema.TerminalClosed {
		t.Fatalf("expected one closed status, got %+v", statuses)
	}
	if _, ok := reg.Get(info.ID); ok {
		t.Fatalf("expected session removed from registry")
	}
	if _, err := mgr.Get(info.ID); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected not found after close, got %v", err)
	}
	if err := mgr.Close(ctx, info.ID); err != nil {
		t.Fatalf("second close should succeed: %v", err)
	}
	if err := mgr.Write(info.ID, "x"); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected not found on write after close, got %v", err)
	}
}

func TestTerminalExitReportsStatus(t *testing.T) {
	mgr, reg, rec := newTestManager(t)
	info, err := mgr.Create(context.Background(), Options{Cwd: t.TempDir()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.Write(info.ID, "exit 3\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	payload := rec.WaitTopic(t, 5*time.Second, schema.TopicTerminalStatus)
	st := payload.(schema.TerminalStatusEvent)
	if st.Status != schema.TerminalExited {
		t.Fatalf("expected exited status, got %s", st.Status)
	}
	if st.ExitCode == nil || *st.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %v", st.ExitCode)
	}
	deadline := time.Now().Add(time.Second)
	for reg.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected exited session to leave the registry")
	}
}

func TestTerminalResizeAndRename(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	info, err := mgr.Create(context.Background(), Options{Cwd: t.TempDir(), Cols: 100, Rows: 30, Name: "build"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if info.Name != "build" {
		t.Fatalf("expected name build, got %q", info.Name)
	}
	if err := mgr.Resize(info.ID, 120, 40); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if err := mgr.Resize(info.ID, 0, 40); !errors.Is(err, schema.ErrBadArgument) {
		t.Fatalf("expected bad argument for zero cols, got %v", err)
	}
	got, err := mgr.Update(info.ID, "tests")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Cols != 120 || got.Rows != 40 || got.Name != "tests" {
		t.Fatalf("unexpected info after resize: %+v", got)
	}
	if err := mgr.Ack(info.ID, -1); !errors.Is(err, schema.ErrBadArgument) {
		t.Fatalf("expected bad argument for negative ack, got %v", err)
	}
	if len(mgr.List()) != 1 {
		t.Fatalf("expected one terminal listed")
	}
}

func TestTerminalRejectsMissingCwd(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	_, err := mgr.Create(context.Background(), Options{Cwd: "/definitely/not/here"})
	if !errors.Is(err, schema.ErrBadArgument) {
		t.Fatalf("expected bad argument, got %v", err)
	}
}

func TestUnknownTerminalOperations(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	if err := mgr.Interrupt("pty-missing"); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mgr.Close(context.Background(), "pty-missing"); err != nil {
		t.Fatalf("closing unknown terminal should succeed: %v", err)
	}
}
