package terminal

import (
	"strings"
	"testing"
)

func TestDefaultShellPrefersOverride(t *testing.T) {
	t.Setenv("CORTEX_SHELL", "/opt/custom/fish")
	if got := DefaultShell(); got != "/opt/custom/fish" {
		t.Fatalf("expected override, got %q", got)
	}
}

func TestShellName(t *testing.T) {
	cases := map[string]string{
		"/bin/bash":        "bash",
		"/usr/bin/zsh":     "zsh",
		"pwsh.exe":         "pwsh",
		"/usr/local/bin/n": "n",
	}
	for in, want := range cases {
		if got := shellName(in); got != want {
			t.Fatalf("shellName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIntegrationScript(t *testing.T) {
	for _, shell := range []string{"/bin/bash", "/bin/zsh", "/usr/bin/fish"} {
		script := integrationScript(shell)
		if !strings.HasPrefix(script, " ") {
			t.Fatalf("%s: expected leading space to keep the line out of history", shell)
		}
		if !strings.Contains(script, "633;") {
			t.Fatalf("%s: expected OSC 633 markers", shell)
		}
	}
	if integrationScript("/bin/sh") != "" {
		t.Fatalf("expected no integration for plain sh")
	}
}

func TestDetectShellsMarksDefault(t *testing.T) {
	shells := DetectShells()
	if len(shells) == 0 {
		t.Skip("no shells detected")
	}
	defaults := 0
	for _, sh := range shells {
		if sh.Default {
			defaults++
		}
	}
	if defaults > 1 {
		t.Fatalf("expected at most one default shell, got %d", defaults)
	}
	if defaults == 1 && !shells[0].Default {
		t.Fatalf("expected default shell first")
	}
}
