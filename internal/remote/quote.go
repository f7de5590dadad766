package remote

import "strings"

// ShellQuote wraps s in single quotes for a POSIX shell. Embedded single
// quotes become '\''.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ResolvePath expands a leading ~ against the remote home directory.
func ResolvePath(home, path string) string {
	switch {
	case path == "~":
		if home != "" {
			return home
		}
	case strings.HasPrefix(path, "~/"):
		if home != "" {
			return strings.TrimRight(home, "/") + "/" + path[2:]
		}
	}
	return path
}

func isWindowsPlatform(platform string) bool {
	p := strings.ToLower(strings.TrimSpace(platform))
	return strings.HasPrefix(p, "windows") || strings.HasPrefix(p, "mingw") ||
		strings.HasPrefix(p, "msys") || strings.HasPrefix(p, "cygwin")
}
