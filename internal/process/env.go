package process

import (
	"os"
	"runtime"
	"sort"
	"strings"

	"pkt.systems/cortex/internal/version"
)

// deniedEnv lists variables that reconfigure loaders, preload code, attach
// debuggers or disable TLS verification in children.
var deniedEnv = map[string]struct{}{
	"LD_PRELOAD":                   {},
	"LD_LIBRARY_PATH":              {},
	"LD_AUDIT":                     {},
	"LD_DEBUG":                     {},
	"DYLD_INSERT_LIBRARIES":        {},
	"DYLD_LIBRARY_PATH":            {},
	"DYLD_FRAMEWORK_PATH":          {},
	"DYLD_FALLBACK_LIBRARY_PATH":   {},
	"DYLD_FALLBACK_FRAMEWORK_PATH": {},
	"NODE_OPTIONS":                 {},
	"NODE_REPL_EXTERNAL_MODULE":    {},
	"NODE_TLS_REJECT_UNAUTHORIZED": {},
	"ELECTRON_RUN_AS_NODE":         {},
	"JAVA_TOOL_OPTIONS":            {},
	"_JAVA_OPTIONS":                {},
	"JDK_JAVA_OPTIONS":             {},
	"PYTHONINSPECT":                {},
	"PYTHONHTTPSVERIFY":            {},
	"GIT_SSL_NO_VERIFY":            {},
	"CORTEX_IPC_TOKEN":             {},
}

// Denied reports whether name is stripped from child environments.
func Denied(name string) bool {
	_, ok := deniedEnv[strings.ToUpper(name)]
	return ok
}

// TerminalEnv returns the variables every terminal child receives.
func TerminalEnv() map[string]string {
	return map[string]string{
		"TERM":                 "xterm-256color",
		"COLORTERM":            "truecolor",
		"TERM_PROGRAM":         "cortex",
		"TERM_PROGRAM_VERSION": version.Current(),
	}
}

// BuildEnv merges base (KEY=VALUE entries, usually os.Environ) with extra and
// drops every denied name. Terminal children also get TerminalEnv.
func BuildEnv(base []string, extra map[string]string, terminal bool) []string {
	merged := make(map[string]string, len(base)+len(extra)+4)
	order := make([]string, 0, len(base)+len(extra)+4)
	set := func(key, value string) {
		norm := envKey(key)
		if _, ok := merged[norm]; !ok {
			order = append(order, norm)
		}
		merged[norm] = key + "=" + value
	}
	for _, entry := range base {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}
		set(key, value)
	}
	if terminal {
		for _, key := range sortedKeys(TerminalEnv()) {
			set(key, TerminalEnv()[key])
		}
	}
	for _, key := range sortedKeys(extra) {
		if key == "" {
			continue
		}
		set(key, extra[key])
	}
	out := make([]string, 0, len(order))
	for _, norm := range order {
		entry := merged[norm]
		key, _, _ := strings.Cut(entry, "=")
		if Denied(key) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// InheritedEnv is BuildEnv over the current process environment.
func InheritedEnv(extra map[string]string, terminal bool) []string {
	return BuildEnv(os.Environ(), extra, terminal)
}

func envKey(key string) string {
	if runtime.GOOS == "windows" {
		return strings.ToUpper(key)
	}
	return key
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
