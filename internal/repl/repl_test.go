//go:build !windows

package repl

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/internal/eventtest"
	"pkt.systems/cortex/schema"
)

var shSpec = schema.KernelSpec{Name: "sh", DisplayName: "POSIX shell", Language: "shell", Interpreter: "/bin/sh"}

func newTestManager(t *testing.T) (*Manager, *eventtest.Recorder) {
	t.Helper()
	rec := eventtest.NewRecorder()
	reg := core.NewRegistry(nil)
	m := NewManager(Config{Specs: []schema.KernelSpec{shSpec}, IdleDelay: 50 * time.Millisecond}, reg, rec, nil)
	t.Cleanup(func() { reg.Drain(context.Background(), 2*time.Second) })
	return m, rec
}

func outputText(rec *eventtest.Recorder, id schema.SessionID, stream string) string {
	var b strings.Builder
	for _, p := range rec.Topic(schema.TopicREPLOutput) {
		if ev, ok := p.(schema.REPLOutputEvent); ok && ev.KernelID == id && ev.Stream == stream {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

func waitOutput(t *testing.T, rec *eventtest.Recorder, id schema.SessionID, stream, want string) {
	t.Helper()
	rec.Wait(t, 5*time.Second, stream+" containing "+want, func([]schema.Event) bool {
		return strings.Contains(outputText(rec, id, stream), want)
	})
}

func statuses(rec *eventtest.Recorder, id schema.SessionID) []schema.KernelStatus {
	var out []schema.KernelStatus
	for _, p := range rec.Topic(schema.TopicREPLStatus) {
		if ev, ok := p.(schema.REPLStatusEvent); ok && ev.KernelID == id {
			out = append(out, ev.Status)
		}
	}
	return out
}

func TestExecuteStreamsAndIdles(t *testing.T) {
	m, rec := newTestManager(t)
	ctx := context.Background()
	info, err := m.Start(ctx, "sh")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if info.Status != schema.KernelIdle || info.Pid <= 0 {
		t.Fatalf("unexpected info %+v", info)
	}

	count, err := m.Execute(info.ID, "echo hello", "cell-1")
	if err != nil || count != 1 {
		t.Fatalf("execute: %d %v", count, err)
	}
	if got, _ := m.Get(info.ID); got.ExecutionCount != 1 {
		t.Fatalf("expected execution count 1, got %d", got.ExecutionCount)
	}
	waitOutput(t, rec, info.ID, "stdout", "hello\n")
	for _, p := range rec.Topic(schema.TopicREPLOutput) {
		if ev := p.(schema.REPLOutputEvent); ev.Stream == "stdout" && ev.CellID != "cell-1" {
			t.Fatalf("expected output tagged with cell-1, got %+v", ev)
		}
	}

	if _, err := m.Execute(info.ID, "echo oops 1>&2", "cell-2"); err != nil {
		t.Fatalf("execute stderr: %v", err)
	}
	waitOutput(t, rec, info.ID, "stderr", "oops\n")

	rec.Wait(t, 2*time.Second, "idle after busy", func([]schema.Event) bool {
		st := statuses(rec, info.ID)
		return len(st) >= 3 && st[len(st)-1] == schema.KernelIdle
	})
	st := statuses(rec, info.ID)
	if st[0] != schema.KernelIdle || st[1] != schema.KernelBusy {
		t.Fatalf("unexpected status sequence %v", st)
	}
}

func TestInterruptDeliversSignal(t *testing.T) {
	m, rec := newTestManager(t)
	info, err := m.Start(context.Background(), "sh")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Execute(info.ID, "trap 'echo interrupted' INT; echo ready", ""); err != nil {
		t.Fatalf("execute: %v", err)
	}
	waitOutput(t, rec, info.ID, "stdout", "ready\n")
	if err := m.Interrupt(info.ID); err != nil {
		t.Fatalf("interrupt: %v", err)
	}
	if _, err := m.Execute(info.ID, "echo after", ""); err != nil {
		t.Fatalf("execute after interrupt: %v", err)
	}
	waitOutput(t, rec, info.ID, "stdout", "interrupted\n")
	waitOutput(t, rec, info.ID, "stdout", "after\n")
}

func TestShutdownAndRestart(t *testing.T) {
	m, rec := newTestManager(t)
	ctx := context.Background()
	info, err := m.Start(ctx, "sh")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	restarted, err := m.Restart(ctx, info.ID)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if restarted.ID != info.ID || restarted.Pid == info.Pid || restarted.ExecutionCount != 0 {
		t.Fatalf("unexpected restart info %+v (was %+v)", restarted, info)
	}
	if _, err := m.Execute(info.ID, "echo again", ""); err != nil {
		t.Fatalf("execute after restart: %v", err)
	}
	waitOutput(t, rec, info.ID, "stdout", "again\n")

	k, _ := m.Kernel(info.ID)
	if err := m.Shutdown(ctx, info.ID); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if k.Status() != schema.KernelShutdown {
		t.Fatalf("expected shutdown status, got %q", k.Status())
	}
	if _, err := k.Execute("echo late", ""); schema.KindOf(err) != schema.KindTransportClosed {
		t.Fatalf("expected transport closed, got %v", err)
	}
	if _, err := m.Get(info.ID); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected not found after shutdown, got %v", err)
	}
	if err := m.Shutdown(ctx, info.ID); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	st := statuses(rec, info.ID)
	if st[len(st)-2] != schema.KernelShuttingDown || st[len(st)-1] != schema.KernelShutdown {
		t.Fatalf("unexpected final statuses %v", st)
	}
}

func TestKernelExitReportsShutdown(t *testing.T) {
	m, rec := newTestManager(t)
	info, err := m.Start(context.Background(), "sh")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Execute(info.ID, "exit 0", ""); err != nil {
		t.Fatalf("execute: %v", err)
	}
	rec.Wait(t, 5*time.Second, "shutdown status", func([]schema.Event) bool {
		st := statuses(rec, info.ID)
		return len(st) > 0 && st[len(st)-1] == schema.KernelShutdown
	})
	if got, err := m.Get(info.ID); err != nil || got.Status != schema.KernelShutdown {
		t.Fatalf("expected dead kernel kept with shutdown status, got %+v %v", got, err)
	}
}

func TestUnknownSpecAndShutdownAll(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Start(ctx, "cobol"); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected not found spec, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := m.Start(ctx, "sh"); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	if n := m.ShutdownAll(ctx); n != 2 {
		t.Fatalf("expected 2 kernels shut down, got %d", n)
	}
	if len(m.List()) != 0 {
		t.Fatalf("expected no kernels, got %+v", m.List())
	}
}
