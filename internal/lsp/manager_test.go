package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"go.lsp.dev/protocol"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/internal/eventtest"
	"pkt.systems/cortex/schema"
)

const testDoc = "file:///tmp/cortex-test/main.py"

func newTestManager(t *testing.T) (*Manager, *eventtest.Recorder) {
	t.Helper()
	rec := eventtest.NewRecorder()
	reg := core.NewRegistry(nil)
	m := NewManager(reg, rec, Options{InitTimeout: 10 * time.Second}, nil)
	t.Cleanup(func() { reg.Drain(context.Background(), 2*time.Second) })
	return m, rec
}

func fakeConfig(t *testing.T) schema.LSPServerConfig {
	t.Helper()
	return schema.LSPServerConfig{
		Name:        "fake",
		Command:     os.Args[0],
		RootPath:    t.TempDir(),
		LanguageIDs: []string{"python"},
		Env:         map[string]string{fakeServerEnv: "1"},
		Settings:    map[string]any{"fake": map[string]any{"option": "on"}},
	}
}

func startFake(t *testing.T, m *Manager) *Session {
	t.Helper()
	info, err := m.Start(context.Background(), fakeConfig(t))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if info.Status != schema.LSPRunning {
		t.Fatalf("expected running, got %q", info.Status)
	}
	s, err := m.Session(info.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return s
}

func TestCompletionLifecycle(t *testing.T) {
	m, rec := newTestManager(t)
	s := startFake(t, m)
	ctx := context.Background()

	if !strings.Contains(string(s.Info().Capabilities), "completionProvider") {
		t.Fatalf("expected stored capabilities, got %s", s.Info().Capabilities)
	}
	if err := s.DidOpen(testDoc, "python", 1, "def f():\n    pa"); err != nil {
		t.Fatalf("did open: %v", err)
	}
	ev := rec.WaitTopic(t, 5*time.Second, schema.LSPDiagnosticsTopic(s.ID()))
	diag, ok := ev.(schema.LSPDiagnosticsEvent)
	if !ok || diag.URI != testDoc || !strings.Contains(string(diag.Diagnostics), "incomplete statement") {
		t.Fatalf("unexpected diagnostics event: %#v", ev)
	}

	list, err := s.Completion(ctx, testDoc, protocol.Position{Line: 1, Character: 6}, nil)
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	found := false
	for _, item := range list.Items {
		var ci struct {
			Label string `json:"label"`
		}
		if err := json.Unmarshal(item, &ci); err == nil && ci.Label == "pass" {
			found = true
		}
	}
	if !found || list.IsIncomplete {
		t.Fatalf("expected complete list with pass, got %+v", list)
	}

	if err := m.Stop(ctx, s.ID()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := m.Session(s.ID()); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected not found after stop, got %v", err)
	}
	if err := m.Stop(ctx, s.ID()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	var statuses []schema.LSPStatus
	for _, p := range rec.Topic(schema.TopicLSPStatus) {
		if st, ok := p.(schema.LSPStatusEvent); ok && st.ID == s.ID() {
			statuses = append(statuses, st.Status)
		}
	}
	want := []schema.LSPStatus{schema.LSPStarting, schema.LSPRunning, schema.LSPStopped}
	if len(statuses) != len(want) {
		t.Fatalf("expected statuses %v, got %v", want, statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("expected statuses %v, got %v", want, statuses)
		}
	}
}

func TestServerConfigurationRequestAnswered(t *testing.T) {
	m, rec := newTestManager(t)
	s := startFake(t, m)
	rec.Wait(t, 5*time.Second, "logMessage with configuration", func(events []schema.Event) bool {
		for _, ev := range events {
			n, ok := ev.Payload.(schema.LSPNotificationEvent)
			if ok && n.ID == s.ID() && n.Method == "window/logMessage" && strings.Contains(string(n.Params), `config [\"on\"]`) {
				return true
			}
		}
		return false
	})
}

func TestResultNormalization(t *testing.T) {
	m, _ := newTestManager(t)
	s := startFake(t, m)
	ctx := context.Background()

	locs, err := s.Definition(ctx, testDoc, protocol.Position{Line: 2, Character: 1})
	if err != nil {
		t.Fatalf("definition: %v", err)
	}
	if len(locs) != 1 || string(locs[0].URI) != "file:///tmp/def.py" || locs[0].Range.Start.Character != 4 {
		t.Fatalf("unexpected locations: %+v", locs)
	}
	hover, err := s.Hover(ctx, testDoc, protocol.Position{})
	if err != nil || hover != nil {
		t.Fatalf("expected nil hover, got %s %v", hover, err)
	}
	edits, err := s.Formatting(ctx, testDoc, protocol.FormattingOptions{TabSize: 4, InsertSpaces: true})
	if err != nil || edits == nil || len(edits) != 0 {
		t.Fatalf("expected empty edits, got %v %v", edits, err)
	}
	if _, err := s.Request(ctx, "custom/unknown", nil); !errors.Is(err, schema.ErrRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
}

func TestCrashMarksSession(t *testing.T) {
	m, rec := newTestManager(t)
	s := startFake(t, m)
	if err := s.Notify("cortex/crash", nil); err != nil {
		t.Fatalf("notify: %v", err)
	}
	rec.Wait(t, 5*time.Second, "crashed status", func(events []schema.Event) bool {
		for _, ev := range events {
			st, ok := ev.Payload.(schema.LSPStatusEvent)
			if ok && st.ID == s.ID() && st.Status == schema.LSPCrashed {
				return true
			}
		}
		return false
	})
	if _, err := s.Completion(context.Background(), testDoc, protocol.Position{}, nil); !errors.Is(err, schema.ErrTransportClosed) {
		t.Fatalf("expected transport closed, got %v", err)
	}
	if err := m.Stop(context.Background(), s.ID()); err != nil {
		t.Fatalf("stop crashed server: %v", err)
	}
}

func TestMultiCompletionMergesServers(t *testing.T) {
	m, _ := newTestManager(t)
	a := startFake(t, m)
	b := startFake(t, m)
	for _, s := range []*Session{a, b} {
		if err := s.DidOpen(testDoc, "", 1, "pa"); err != nil {
			t.Fatalf("did open: %v", err)
		}
	}
	list := m.MultiCompletion(context.Background(), []schema.SessionID{a.ID(), "lsp-missing", b.ID()}, testDoc, protocol.Position{Character: 2}, nil)
	if len(list.Items) != 2 {
		t.Fatalf("expected items from both servers, got %d", len(list.Items))
	}
	defs := m.MultiDefinition(context.Background(), []schema.SessionID{a.ID(), b.ID()}, testDoc, protocol.Position{})
	if len(defs) != 1 {
		t.Fatalf("expected duplicate definitions merged, got %+v", defs)
	}
}

func TestRestartKeepsID(t *testing.T) {
	m, _ := newTestManager(t)
	s := startFake(t, m)
	info, err := m.Restart(context.Background(), s.ID())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if info.ID != s.ID() || info.Status != schema.LSPRunning {
		t.Fatalf("unexpected restart info: %+v", info)
	}
	if info.Pid == s.Info().Pid {
		t.Fatalf("expected a new server process")
	}
	if _, err := m.Restart(context.Background(), "lsp-missing"); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStartValidatesConfig(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Start(context.Background(), schema.LSPServerConfig{Name: "none"}); !errors.Is(err, schema.ErrBadArgument) {
		t.Fatalf("expected bad argument, got %v", err)
	}
	cfg := fakeConfig(t)
	cfg.RootPath = "/does/not/exist"
	if _, err := m.Start(context.Background(), cfg); !errors.Is(err, schema.ErrBadArgument) {
		t.Fatalf("expected bad argument for root, got %v", err)
	}
}

func TestDecodeCompletionArray(t *testing.T) {
	list, err := decodeCompletion(json.RawMessage(`[{"label":"a"},{"label":"b"}]`))
	if err != nil || len(list.Items) != 2 || list.IsIncomplete {
		t.Fatalf("unexpected list: %+v %v", list, err)
	}
	list, err = decodeCompletion(json.RawMessage(`null`))
	if err != nil || list.Items == nil || len(list.Items) != 0 {
		t.Fatalf("expected empty list for null, got %+v %v", list, err)
	}
}

func TestLookupSetting(t *testing.T) {
	settings := map[string]any{"a": map[string]any{"b": 1.0}}
	if got := lookupSetting(settings, "a.b"); got != 1.0 {
		t.Fatalf("expected 1, got %v", got)
	}
	if got := lookupSetting(settings, "a.c"); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if got := lookupSetting(settings, ""); got == nil {
		t.Fatalf("expected whole settings for empty section")
	}
}
