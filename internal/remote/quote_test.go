package remote

import "testing"

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"plain":         "'plain'",
		"":              "''",
		"it's":          `'it'\''s'`,
		"a b; rm -rf /": "'a b; rm -rf /'",
		"$HOME/`id`":    "'$HOME/`id`'",
		"''":            `''\'''\'''`,
	}
	for in, want := range cases {
		if got := ShellQuote(in); got != want {
			t.Fatalf("ShellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolvePath(t *testing.T) {
	cases := []struct {
		home, in, want string
	}{
		{"/home/u", "~", "/home/u"},
		{"/home/u", "~/src/app", "/home/u/src/app"},
		{"/home/u/", "~/x", "/home/u/x"},
		{"/home/u", "/etc/hosts", "/etc/hosts"},
		{"/home/u", "~other/x", "~other/x"},
		{"", "~/x", "~/x"},
	}
	for _, tc := range cases {
		if got := ResolvePath(tc.home, tc.in); got != tc.want {
			t.Fatalf("ResolvePath(%q, %q) = %q, want %q", tc.home, tc.in, got, tc.want)
		}
	}
}

func TestIsWindowsPlatform(t *testing.T) {
	for _, p := range []string{"Windows", "MINGW64_NT-10.0", "CYGWIN_NT-10.0"} {
		if !isWindowsPlatform(p) {
			t.Fatalf("expected %q to be windows", p)
		}
	}
	for _, p := range []string{"Linux", "Darwin", "FreeBSD"} {
		if isWindowsPlatform(p) {
			t.Fatalf("expected %q not to be windows", p)
		}
	}
}
