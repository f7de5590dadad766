//go:build !windows

package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gliderssh "github.com/gliderlabs/ssh"
	"github.com/pkg/sftp"
	gossh "golang.org/x/crypto/ssh"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/internal/credstore"
	"pkt.systems/cortex/internal/eventtest"
	"pkt.systems/cortex/internal/sshkeys"
	"pkt.systems/cortex/schema"
)

const testPassword = "correct horse"

type fakeSecrets map[string]string

func (f fakeSecrets) Fetch(profileID string, role credstore.Role) (string, bool, error) {
	v, ok := f[profileID+":"+string(role)]
	return v, ok, nil
}

type testServer struct {
	addr *net.TCPAddr
	home string
}

func startServer(t *testing.T) testServer {
	t.Helper()
	return startServerWith(t, func(s gliderssh.Session) {
		server, err := sftp.NewServer(s)
		if err != nil {
			return
		}
		_ = server.Serve()
		_ = server.Close()
	})
}

func startServerWith(t *testing.T, sftpHandler gliderssh.SubsystemHandler) testServer {
	t.Helper()
	home := t.TempDir()
	priv, err := sshkeys.Generate(sshkeys.KeyTypeEd25519, 0)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	srv := &gliderssh.Server{
		Handler: func(s gliderssh.Session) {
			if cmd := s.RawCommand(); cmd != "" {
				c := exec.Command("/bin/sh", "-c", cmd)
				c.Env = append(os.Environ(), "HOME="+home)
				c.Dir = home
				c.Stdout = s
				c.Stderr = s.Stderr()
				code := 0
				if err := c.Run(); err != nil {
					var exitErr *exec.ExitError
					if errors.As(err, &exitErr) {
						code = exitErr.ExitCode()
					} else {
						code = 127
					}
				}
				_ = s.Exit(code)
				return
			}
			_, _ = io.Copy(s, s)
			_ = s.Exit(0)
		},
		PasswordHandler: func(_ gliderssh.Context, password string) bool {
			return password == testPassword
		},
		SubsystemHandlers: map[string]gliderssh.SubsystemHandler{
			"sftp": sftpHandler,
		},
	}
	srv.AddHostKey(signer)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return testServer{addr: ln.Addr().(*net.TCPAddr), home: home}
}

func (ts testServer) profile() schema.SSHProfile {
	return schema.SSHProfile{
		ID:       "p1",
		Name:     "test",
		Host:     "127.0.0.1",
		Port:     ts.addr.Port,
		Username: "dev",
		Auth:     schema.SSHAuth{Type: schema.SSHAuthPassword, HasPassword: true},
	}
}

func newTestManager(t *testing.T, secret string) (*Manager, *eventtest.Recorder) {
	t.Helper()
	rec := eventtest.NewRecorder()
	reg := core.NewRegistry(nil)
	cfg := Config{
		ConnectTimeout: 5 * time.Second,
		KnownHostsPath: filepath.Join(t.TempDir(), "known_hosts"),
		HostKeyPolicy:  sshkeys.HostKeyAcceptNew,
	}
	m := NewManager(cfg, reg, rec, fakeSecrets{"p1:" + string(credstore.RolePassword): secret}, nil, nil)
	t.Cleanup(func() { reg.Drain(context.Background(), time.Second) })
	return m, rec
}

func TestConnectExecDisconnect(t *testing.T) {
	ts := startServer(t)
	m, rec := newTestManager(t, testPassword)
	ctx := context.Background()

	info, err := m.Connect(ctx, ConnectOptions{Profile: ts.profile()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if info.Status != schema.SSHConnected {
		t.Fatalf("expected connected, got %q", info.Status)
	}
	if info.HomeDirectory != ts.home {
		t.Fatalf("expected home %q, got %q", ts.home, info.HomeDirectory)
	}
	if info.Platform == "" {
		t.Fatalf("expected platform to be probed")
	}
	if got := rec.Topic(schema.TopicSSHConnected); len(got) != 1 {
		t.Fatalf("expected one connected event, got %d", len(got))
	}

	s, err := m.Session(info.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	res, err := s.Exec(ctx, "echo 42")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if res.Stdout != "42\n" || res.Stderr != "" || res.ExitCode != 0 {
		t.Fatalf("unexpected exec result: %+v", res)
	}
	res, err = s.Exec(ctx, "echo oops >&2; exit 7")
	if err != nil {
		t.Fatalf("exec failing command: %v", err)
	}
	if res.ExitCode != 7 || res.Stderr != "oops\n" {
		t.Fatalf("unexpected failing exec result: %+v", res)
	}

	if err := m.Disconnect(ctx, info.ID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	rec.Wait(t, 2*time.Second, "disconnected status", func(events []schema.Event) bool {
		for _, ev := range events {
			st, ok := ev.Payload.(schema.SSHStatusEvent)
			if ok && st.SessionID == info.ID && st.Status == schema.SSHDisconnected {
				return true
			}
		}
		return false
	})
	if _, err := m.Get(info.ID); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected not found after disconnect, got %v", err)
	}
	if err := m.Disconnect(ctx, info.ID); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	if _, err := s.Exec(ctx, "echo 1"); !errors.Is(err, schema.ErrTransportClosed) {
		t.Fatalf("expected transport closed after disconnect, got %v", err)
	}
}

func TestConnectRejectsWrongPassword(t *testing.T) {
	ts := startServer(t)
	m, _ := newTestManager(t, "wrong")
	_, err := m.Connect(context.Background(), ConnectOptions{Profile: ts.profile()})
	if !errors.Is(err, schema.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if strings.Contains(err.Error(), "wrong") {
		t.Fatalf("error leaks the password: %v", err)
	}
	if n := len(m.List()); n != 0 {
		t.Fatalf("expected no registered sessions, got %d", n)
	}
}

func TestConnectWithOneShotCredentials(t *testing.T) {
	ts := startServer(t)
	m, _ := newTestManager(t, "wrong")
	ctx := context.Background()
	info, err := m.Connect(ctx, ConnectOptions{Profile: ts.profile(), Credentials: &Credentials{Password: testPassword}})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.Disconnect(ctx, info.ID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
}

func TestConnectValidatesProfile(t *testing.T) {
	m, _ := newTestManager(t, testPassword)
	_, err := m.Connect(context.Background(), ConnectOptions{Profile: schema.SSHProfile{Username: "dev", Auth: schema.SSHAuth{Type: schema.SSHAuthPassword}}})
	if !errors.Is(err, schema.ErrBadArgument) {
		t.Fatalf("expected bad argument, got %v", err)
	}
}

func TestChannelEchoAndRemoteExit(t *testing.T) {
	ts := startServer(t)
	m, rec := newTestManager(t, testPassword)
	ctx := context.Background()
	info, err := m.Connect(ctx, ConnectOptions{Profile: ts.profile(), OpenChannel: true, Channel: ChannelOptions{Cols: 100, Rows: 30}})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !info.HasChannel {
		t.Fatalf("expected channel to be open")
	}
	s, err := m.Session(info.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if err := s.OpenChannel(ctx, ChannelOptions{}); !errors.Is(err, schema.ErrBadArgument) {
		t.Fatalf("expected second channel to be rejected, got %v", err)
	}
	if err := s.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Resize(120, 40); err != nil {
		t.Fatalf("resize: %v", err)
	}
	rec.Wait(t, 2*time.Second, "echoed output", func(events []schema.Event) bool {
		var b strings.Builder
		for _, ev := range events {
			if out, ok := ev.Payload.(schema.SSHOutputEvent); ok {
				b.WriteString(out.Data)
			}
		}
		return strings.Contains(b.String(), "ping")
	})

	if err := s.CloseChannel(); err != nil {
		t.Fatalf("close channel: %v", err)
	}
	if got := s.Info(); got.HasChannel {
		t.Fatalf("expected channel to be gone after close")
	}
	if _, err := s.Exec(ctx, "true"); err != nil {
		t.Fatalf("exec after channel close: %v", err)
	}
}

func TestSFTPOperations(t *testing.T) {
	ts := startServer(t)
	m, _ := newTestManager(t, testPassword)
	ctx := context.Background()
	info, err := m.Connect(ctx, ConnectOptions{Profile: ts.profile()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	s, err := m.Session(info.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	if err := s.CreateDir(ctx, "~/proj/src", true); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := s.WriteFile(ctx, "~/proj/src/main.go", []byte("package main\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	text, err := s.ReadText(ctx, "~/proj/src/main.go")
	if err != nil || text != "package main\n" {
		t.Fatalf("read text: %q %v", text, err)
	}
	if err := s.WriteFile(ctx, "~/proj/README", []byte("hi")); err != nil {
		t.Fatalf("write readme: %v", err)
	}
	entries, err := s.ListDir(ctx, "~/proj")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "src" || !entries[0].IsDirectory || entries[1].Name != "README" {
		t.Fatalf("unexpected listing: %+v", entries)
	}
	if err := s.Rename(ctx, "~/proj/README", "~/proj/README.md"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	st, err := s.Stat(ctx, "~/proj/README.md")
	if err != nil || st.Size != 2 {
		t.Fatalf("stat: %+v %v", st, err)
	}
	if _, err := s.Stat(ctx, "~/proj/missing"); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.Delete(ctx, "~/proj", true); err != nil {
		t.Fatalf("delete recursive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ts.home, "proj")); !os.IsNotExist(err) {
		t.Fatalf("expected proj removed, got %v", err)
	}
	if err := s.Delete(ctx, "/", true); !errors.Is(err, schema.ErrBadArgument) {
		t.Fatalf("expected root delete refused, got %v", err)
	}
}

// stallLister never answers a listing until release is closed.
type stallLister struct{ release chan struct{} }

func (l stallLister) Filelist(*sftp.Request) (sftp.ListerAt, error) {
	<-l.release
	return nil, os.ErrNotExist
}

func TestSFTPCallReturnsOnCancel(t *testing.T) {
	release := make(chan struct{})
	handlers := sftp.InMemHandler()
	handlers.FileList = stallLister{release: release}
	ts := startServerWith(t, func(s gliderssh.Session) {
		server := sftp.NewRequestServer(s, handlers)
		_ = server.Serve()
		_ = server.Close()
	})
	defer close(release)
	m, _ := newTestManager(t, testPassword)
	info, err := m.Connect(context.Background(), ConnectOptions{Profile: ts.profile()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	s, err := m.Session(info.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = s.ListDir(ctx, "/stalled")
	if waited := time.Since(start); waited > 2*time.Second {
		t.Fatalf("list returned after %v", waited)
	}
	if kind := schema.KindOf(err); kind != schema.KindTimeout {
		t.Fatalf("expected timeout, got %v (%v)", kind, err)
	}

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	if err := s.WriteFile(cancelled, "/late", []byte("x")); schema.KindOf(err) != schema.KindCancelled {
		t.Fatalf("expected cancelled write, got %v", err)
	}
	if got := s.Info().Status; got != schema.SSHConnected {
		t.Fatalf("abandoned call must not fail the session, status %v", got)
	}
	res, err := s.Exec(context.Background(), "echo ok")
	if err != nil || strings.TrimSpace(res.Stdout) != "ok" {
		t.Fatalf("exec after cancel: %+v %v", res, err)
	}
}
