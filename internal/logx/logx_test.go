package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestWithSessionAddsFields(t *testing.T) {
	capture := &logCapture{}
	log := WithSession(newCaptureLogger(capture), schema.KindLSP, "lsp-1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["session"] != "lsp-1" {
		t.Fatalf("expected session field, got %+v", entry)
	}
	if entry["kind"] != "lsp" {
		t.Fatalf("expected kind field, got %+v", entry)
	}
}

func TestWithSessionSkipsEmpty(t *testing.T) {
	capture := &logCapture{}
	log := WithSession(newCaptureLogger(capture), "", "")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["session"]; ok {
		t.Fatalf("did not expect session field, got %+v", entry)
	}
}

func TestWithCommandDeduplicates(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	ctx := pslog.ContextWithLogger(context.Background(), logger)
	log := WithCommand(ctx, "ssh_exec")
	ctx = ContextWithCommandLogger(ctx, log, "ssh_exec")
	WithCommand(ctx, "ssh_exec").Info("hello")

	entry := capture.firstEntry(t)
	if entry["command"] != "ssh_exec" {
		t.Fatalf("expected command field, got %+v", entry)
	}
	if bytes.Count(capture.buf.Bytes(), []byte(`"command"`)) != 1 {
		t.Fatalf("expected command field once, got %s", capture.buf.String())
	}
}

func TestCopyContextFields(t *testing.T) {
	src := ContextWithSession(context.Background(), "pty-1")
	dst := CopyContextFields(context.Background(), src)
	if got, _ := dst.Value(sessionKey).(schema.SessionID); got != "pty-1" {
		t.Fatalf("expected session marker copied, got %q", got)
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
