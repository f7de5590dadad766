package terminal

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"pkt.systems/cortex/schema"
)

// DefaultShell picks the shell for new terminals: CORTEX_SHELL, then SHELL,
// then the platform default.
func DefaultShell() string {
	if sh := strings.TrimSpace(os.Getenv("CORTEX_SHELL")); sh != "" {
		return sh
	}
	if runtime.GOOS == "windows" {
		for _, candidate := range []string{"pwsh.exe", "powershell.exe"} {
			if path, err := exec.LookPath(candidate); err == nil {
				return path
			}
		}
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	}
	if sh := strings.TrimSpace(os.Getenv("SHELL")); sh != "" {
		return sh
	}
	candidates := []string{"/bin/bash", "/bin/zsh", "/bin/sh"}
	if runtime.GOOS == "darwin" {
		candidates = []string{"/bin/zsh", "/bin/bash", "/bin/sh"}
	}
	for _, candidate := range candidates {
		if isExecutable(candidate) {
			return candidate
		}
	}
	return "/bin/sh"
}

// DetectShells lists the shells installed on the host, default first.
func DetectShells() []schema.ShellInfo {
	def := DefaultShell()
	seen := make(map[string]bool)
	var out []schema.ShellInfo
	add := func(path string) {
		if path == "" {
			return
		}
		resolved := path
		if real, err := filepath.EvalSymlinks(path); err == nil {
			resolved = real
		}
		if seen[resolved] || !isExecutable(path) {
			return
		}
		seen[resolved] = true
		out = append(out, schema.ShellInfo{
			Name:    shellName(path),
			Path:    path,
			Default: path == def,
		})
	}
	add(def)
	for _, path := range etcShells() {
		add(path)
	}
	for _, name := range []string{"bash", "zsh", "fish", "nu", "pwsh", "powershell", "sh", "cmd"} {
		if path, err := exec.LookPath(name); err == nil {
			add(path)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Default && !out[j].Default
	})
	return out
}

func etcShells() []string {
	f, err := os.Open("/etc/shells")
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()
	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func shellName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(strings.ToLower(base), ".exe")
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}
