package cortex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/httpapi"
	"pkt.systems/cortex/internal/appconfig"
	"pkt.systems/cortex/internal/credstore"
	"pkt.systems/cortex/schema"
)

type memSecrets struct {
	mu      sync.Mutex
	secrets map[string]string
}

func (m *memSecrets) Store(id string, role credstore.Role, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.secrets == nil {
		m.secrets = map[string]string{}
	}
	m.secrets[id+"/"+string(role)] = secret
	return nil
}

func (m *memSecrets) Fetch(id string, role credstore.Role) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[id+"/"+string(role)]
	return s, ok, nil
}

func (m *memSecrets) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, role := range credstore.Roles {
		delete(m.secrets, id+"/"+string(role))
	}
	return nil
}

func (m *memSecrets) Backend() string { return "memory" }

type trackingSession struct {
	id     schema.SessionID
	closed atomic.Int32
}

func (s *trackingSession) ID() schema.SessionID     { return s.id }
func (s *trackingSession) Kind() schema.SessionKind { return schema.KindPty }
func (s *trackingSession) Kill()                    {}
func (s *trackingSession) Close(context.Context) error {
	s.closed.Add(1)
	return nil
}

func testConfig(t *testing.T) appconfig.Config {
	t.Helper()
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.StateDir = t.TempDir()
	cfg.IPC.Addr = "127.0.0.1:0"
	cfg.REPL.Cwd = cfg.StateDir
	return cfg
}

func TestServerEmitsReadyAndStopsDrainsSessions(t *testing.T) {
	srv, err := New(ServerConfig{Config: testConfig(t)}, ServerDeps{Secrets: &memSecrets{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events, cancel := srv.Bus().Subscribe(schema.TopicBackendReady)
	defer cancel()
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected second Start to fail")
	}

	select {
	case ev := <-events:
		ready, ok := ev.Payload.(schema.BackendReadyEvent)
		if !ok || ready.Version == "" {
			t.Fatalf("unexpected ready payload %#v", ev.Payload)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("backend ready not emitted")
	}

	sess := &trackingSession{id: core.NewSessionID(schema.KindPty)}
	if _, err := srv.(*compositeServer).registry.Insert(sess); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := srv.Router().Invoke(context.Background(), "terminal_default_shell", nil); err != nil {
		t.Fatalf("terminal_default_shell: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sess.closed.Load() != 1 {
		t.Fatalf("expected session to be closed once, got %d", sess.closed.Load())
	}
	if err := srv.Wait(); err != nil {
		t.Fatalf("Wait after stop: %v", err)
	}
	if err := srv.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestServerTransportWritesInstanceFile(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(ServerConfig{Config: cfg}, ServerDeps{Secrets: &memSecrets{}}, WithTransport())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	path := filepath.Join(cfg.StateDir, httpapi.InstanceFile)
	inst, err := httpapi.ReadInstance(path)
	if err != nil {
		t.Fatalf("read instance: %v", err)
	}
	if inst.Addr != srv.Addr() || inst.PID != os.Getpid() || inst.Token == "" {
		t.Fatalf("unexpected instance %+v (addr %s)", inst, srv.Addr())
	}

	client, err := httpapi.Connect(context.Background(), path)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	var act schema.DeepLinkAction
	if err := client.Invoke(context.Background(), "deep_link_parse", schema.DeepLinkParams{URL: "cortex://settings"}, &act); err != nil {
		t.Fatalf("deep_link_parse: %v", err)
	}
	if act.Kind != schema.DeepLinkOpenSettings {
		t.Fatalf("unexpected action %+v", act)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("instance file not removed: %v", err)
	}
}

func TestNewRequiresStateDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.StateDir = ""
	if _, err := New(ServerConfig{Config: cfg}, ServerDeps{Secrets: &memSecrets{}}); schema.KindOf(err) != schema.KindBadArgument {
		t.Fatalf("expected bad argument, got %v", err)
	}
}
