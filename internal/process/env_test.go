package process

import (
	"strings"
	"testing"
)

func TestBuildEnvStripsDeniedNames(t *testing.T) {
	base := []string{
		"PATH=/usr/bin",
		"LD_PRELOAD=/tmp/evil.so",
		"DYLD_INSERT_LIBRARIES=/tmp/evil.dylib",
		"NODE_OPTIONS=--inspect",
		"HOME=/home/dev",
	}
	env := BuildEnv(base, map[string]string{"JAVA_TOOL_OPTIONS": "-agentlib", "FOO": "bar"}, false)
	got := envMap(env)
	for _, denied := range []string{"LD_PRELOAD", "DYLD_INSERT_LIBRARIES", "NODE_OPTIONS", "JAVA_TOOL_OPTIONS"} {
		if _, ok := got[denied]; ok {
			t.Fatalf("expected %s to be stripped, env=%v", denied, env)
		}
	}
	if got["PATH"] != "/usr/bin" || got["HOME"] != "/home/dev" || got["FOO"] != "bar" {
		t.Fatalf("unexpected env: %v", got)
	}
	if _, ok := got["TERM"]; ok {
		t.Fatalf("non-terminal child must not get TERM")
	}
}

func TestBuildEnvTerminalIdentity(t *testing.T) {
	env := envMap(BuildEnv([]string{"TERM=dumb"}, map[string]string{"EDITOR": "vi"}, true))
	if env["TERM"] != "xterm-256color" {
		t.Fatalf("expected TERM override, got %q", env["TERM"])
	}
	if env["COLORTERM"] != "truecolor" {
		t.Fatalf("expected COLORTERM, got %q", env["COLORTERM"])
	}
	if env["TERM_PROGRAM"] != "cortex" || env["TERM_PROGRAM_VERSION"] == "" {
		t.Fatalf("expected app identity pair, got %v", env)
	}
	if env["EDITOR"] != "vi" {
		t.Fatalf("expected extra env to apply")
	}
}

func TestBuildEnvExtraOverridesBase(t *testing.T) {
	env := envMap(BuildEnv([]string{"A=1", "B=2"}, map[string]string{"A": "3"}, false))
	if env["A"] != "3" || env["B"] != "2" {
		t.Fatalf("unexpected env: %v", env)
	}
}

func envMap(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, entry := range env {
		key, value, _ := strings.Cut(entry, "=")
		out[key] = value
	}
	return out
}
