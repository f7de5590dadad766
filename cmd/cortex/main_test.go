package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/cortex/httpapi"
	"pkt.systems/cortex/internal/appconfig"
	"pkt.systems/cortex/internal/deeplink"
	"pkt.systems/cortex/internal/version"
	"pkt.systems/cortex/schema"
)

type recordingInvoker struct {
	mu    sync.Mutex
	links []string
}

func (r *recordingInvoker) Invoke(_ context.Context, name string, params json.RawMessage) (any, error) {
	if name != "deep_link_open" {
		return nil, schema.NotFound("command", name)
	}
	var p schema.DeepLinkParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, schema.BadArgument("url", err.Error())
	}
	r.mu.Lock()
	r.links = append(r.links, p.URL)
	r.mu.Unlock()
	return deeplink.Parse(p.URL), nil
}

func runningInstance(t *testing.T) (string, *recordingInvoker) {
	t.Helper()
	inv := &recordingInvoker{}
	srv := httpapi.NewServer(httpapi.Config{Token: "tok"}, inv, httpapi.NewHub(8, nil))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	path := filepath.Join(t.TempDir(), httpapi.InstanceFile)
	inst := httpapi.Instance{Addr: strings.TrimPrefix(ts.URL, "http://"), Token: "tok", PID: os.Getpid(), StartedAt: time.Now()}
	if err := httpapi.WriteInstance(path, inst); err != nil {
		t.Fatalf("write instance: %v", err)
	}
	return path, inv
}

func failSpawn(t *testing.T) spawnFunc {
	return func(context.Context, []string, bool) error {
		t.Fatalf("spawn must not run while an instance is up")
		return nil
	}
}

func TestLauncherForwardsToRunningInstance(t *testing.T) {
	path, inv := runningInstance(t)
	l := launcher{instancePath: path, spawn: failSpawn(t)}
	if err := l.run(context.Background(), "cortex://file/tmp/a.go", false); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(inv.links) != 1 || inv.links[0] != "cortex://file/tmp/a.go" {
		t.Fatalf("unexpected forwarded links %v", inv.links)
	}
}

func TestLauncherWaitRejectedWhenRunning(t *testing.T) {
	path, inv := runningInstance(t)
	l := launcher{instancePath: path, spawn: failSpawn(t)}
	err := l.run(context.Background(), "cortex://settings", true)
	if schema.KindOf(err) != schema.KindUnsupported {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if len(inv.links) != 0 {
		t.Fatalf("link forwarded despite --wait: %v", inv.links)
	}
}

func TestLauncherSpawnsWithoutInstance(t *testing.T) {
	var gotArgs []string
	var gotWait bool
	l := launcher{
		instancePath: filepath.Join(t.TempDir(), httpapi.InstanceFile),
		configPath:   "/etc/cortex.yaml",
		spawn: func(_ context.Context, args []string, wait bool) error {
			gotArgs, gotWait = args, wait
			return nil
		},
	}
	if err := l.run(context.Background(), "cortex://settings", true); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"serve", "--config", "/etc/cortex.yaml", "cortex://settings"}
	if strings.Join(gotArgs, " ") != strings.Join(want, " ") || !gotWait {
		t.Fatalf("unexpected spawn %v wait=%v", gotArgs, gotWait)
	}

	l.configPath = ""
	if err := l.run(context.Background(), "", false); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(gotArgs) != 1 || gotArgs[0] != "serve" || gotWait {
		t.Fatalf("unexpected bare spawn %v wait=%v", gotArgs, gotWait)
	}
}

func TestGotoLinkKeepsShapeAfterAbsolutize(t *testing.T) {
	act, err := deeplink.FromInvocation(deeplink.Invocation{Goto: "src/main.rs:42:10"})
	if err != nil {
		t.Fatalf("invocation: %v", err)
	}
	if got := deeplink.Build(act); got != "cortex://goto/src/main.rs?line=42&column=10" {
		t.Fatalf("unexpected relative link %q", got)
	}

	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("eval symlinks: %v", err)
	}
	t.Chdir(dir)
	link, err := launchOptions{gotoTarget: "src/main.rs:42:10"}.link(nil)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	want := act
	want.Path = filepath.Join(dir, "src", "main.rs")
	if link != deeplink.Build(want) || !strings.HasSuffix(link, "/src/main.rs?line=42&column=10") {
		t.Fatalf("unexpected absolute link %q", link)
	}
}

func TestLaunchOptionsBuildAbsoluteLinks(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("eval symlinks: %v", err)
	}
	t.Chdir(dir)
	if err := os.WriteFile("main.go", []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Mkdir("pkg", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	link, err := launchOptions{}.link([]string{"main.go"})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	act := deeplink.Parse(link)
	if act.Kind != schema.DeepLinkOpenFile || act.Path != filepath.Join(dir, "main.go") {
		t.Fatalf("unexpected file action %+v from %s", act, link)
	}

	link, err = launchOptions{newWindow: true}.link([]string{"pkg"})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	act = deeplink.Parse(link)
	if act.Kind != schema.DeepLinkOpenFolder || act.Path != filepath.Join(dir, "pkg") || !act.NewWindow {
		t.Fatalf("unexpected folder action %+v from %s", act, link)
	}

	link, err = launchOptions{gotoTarget: "main.go:12:3"}.link(nil)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	act = deeplink.Parse(link)
	if act.Kind != schema.DeepLinkOpenGoto || act.Line != 12 || act.Column == nil || *act.Column != 3 {
		t.Fatalf("unexpected goto action %+v from %s", act, link)
	}

	if _, err := (launchOptions{diff: true}).link([]string{"main.go"}); schema.KindOf(err) != schema.KindBadArgument {
		t.Fatalf("expected bad argument for one diff file, got %v", err)
	}
	if _, err := (launchOptions{}).link([]string{"a", "b"}); schema.KindOf(err) != schema.KindBadArgument {
		t.Fatalf("expected bad argument for two paths, got %v", err)
	}
	if link, err := (launchOptions{}).link(nil); err != nil || link != "" {
		t.Fatalf("expected empty link, got %q %v", link, err)
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), version.Module()+" ") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestRootHasSubcommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"serve": false, "doctor": false, "version": false, "config": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("expected root command to include %s", name)
		}
	}
}

func TestDoctorReportsStateAndInstance(t *testing.T) {
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.StateDir = t.TempDir()
	if err := os.Chmod(cfg.StateDir, 0o755); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	cfg.Credentials.Backend = "file"
	cfg.Credentials.KeyStorePath = filepath.Join(cfg.StateDir, "keys.json")
	cfg.Credentials.VaultPath = filepath.Join(cfg.StateDir, "vault.bin")
	t.Setenv("SSH_AUTH_SOCK", "")

	var out bytes.Buffer
	if err := runDoctor(context.Background(), &out, cfg, "/tmp/cortex.yaml"); err != nil {
		t.Fatalf("doctor: %v", err)
	}
	report := out.String()
	for _, want := range []string{
		"config:      /tmp/cortex.yaml",
		"state dir:   " + cfg.StateDir + " 0755",
		"warning:     state dir is readable by group or others",
		"credentials: file",
		"ssh agent:   unavailable",
		"instance:    not running",
	} {
		if !strings.Contains(report, want) {
			t.Fatalf("doctor report missing %q:\n%s", want, report)
		}
	}
}
