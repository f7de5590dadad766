// Package deeplink parses and builds cortex:// URLs.
//
//	cortex://file/<path>
//	cortex://open/<path>?new_window=true
//	cortex://goto/<path>?line=<n>[&column=<n>]
//	cortex://diff?left=<path>&right=<path>
//	cortex://add/<path>
//	cortex://settings[/<section>]
//
// Relative paths follow the host directly; absolute POSIX paths keep their
// leading slash (cortex://file//etc/hosts). A Windows drive may appear as
// /C:/... and loses the leading slash.
package deeplink

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"

	"pkt.systems/cortex/schema"
)

// Scheme is the URL scheme handled by the application.
const Scheme = "cortex"

// ErrInvalidGoto reports a --goto argument without a line number.
var ErrInvalidGoto = errors.New("goto target must be FILE:LINE[:COLUMN]")

// Parse turns a URL into an action. Anything that cannot be understood
// becomes an Unknown action carrying the raw URL.
func Parse(raw string) schema.DeepLinkAction {
	unknown := schema.DeepLinkAction{Kind: schema.DeepLinkUnknown, RawURL: raw}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !strings.EqualFold(u.Scheme, Scheme) {
		return unknown
	}
	p, err := linkPath(u)
	if err != nil {
		return unknown
	}
	q := u.Query()
	switch strings.ToLower(u.Host) {
	case "file":
		if p == "" {
			return unknown
		}
		return schema.DeepLinkAction{Kind: schema.DeepLinkOpenFile, Path: p}
	case "open":
		if p == "" {
			return unknown
		}
		return schema.DeepLinkAction{Kind: schema.DeepLinkOpenFolder, Path: p, NewWindow: truthy(q.Get("new_window")) || truthy(q.Get("newWindow"))}
	case "goto":
		return parseGotoLink(p, q, unknown)
	case "diff":
		left, right := q.Get("left"), q.Get("right")
		if left == "" || right == "" {
			return unknown
		}
		return schema.DeepLinkAction{Kind: schema.DeepLinkOpenDiff, Left: left, Right: right}
	case "add":
		if p == "" {
			return unknown
		}
		return schema.DeepLinkAction{Kind: schema.DeepLinkAddFolder, Path: p}
	case "settings":
		section := p
		if section == "" {
			section = q.Get("section")
		}
		return schema.DeepLinkAction{Kind: schema.DeepLinkOpenSettings, Section: section}
	default:
		return unknown
	}
}

func parseGotoLink(p string, q url.Values, unknown schema.DeepLinkAction) schema.DeepLinkAction {
	if p == "" {
		return unknown
	}
	if q.Get("line") == "" {
		target, err := ParseGoto(p)
		if err != nil {
			return unknown
		}
		return target
	}
	line, err := strconv.Atoi(q.Get("line"))
	if err != nil || line < 1 {
		return unknown
	}
	action := schema.DeepLinkAction{Kind: schema.DeepLinkOpenGoto, Path: p, Line: line}
	if c := q.Get("column"); c != "" {
		col, err := strconv.Atoi(c)
		if err != nil || col < 1 {
			return unknown
		}
		action.Column = &col
	}
	return action
}

// linkPath decodes the URL path and applies the leading-slash rules.
func linkPath(u *url.URL) (string, error) {
	p, err := url.PathUnescape(u.EscapedPath())
	if err != nil {
		return "", err
	}
	p = strings.TrimPrefix(p, "/")
	if len(p) >= 3 && p[0] == '/' && isDrive(p[1:]) {
		p = p[1:]
	}
	return p, nil
}

func isDrive(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// Build renders an action as a URL. Unknown actions return their raw URL.
func Build(a schema.DeepLinkAction) string {
	base := Scheme + "://"
	switch a.Kind {
	case schema.DeepLinkOpenFile:
		return base + "file/" + escapePath(a.Path)
	case schema.DeepLinkOpenFolder:
		s := base + "open/" + escapePath(a.Path)
		if a.NewWindow {
			s += "?new_window=true"
		}
		return s
	case schema.DeepLinkOpenGoto:
		s := base + "goto/" + escapePath(a.Path) + "?line=" + strconv.Itoa(a.Line)
		if a.Column != nil {
			s += "&column=" + strconv.Itoa(*a.Column)
		}
		return s
	case schema.DeepLinkOpenDiff:
		return base + "diff?left=" + url.QueryEscape(a.Left) + "&right=" + url.QueryEscape(a.Right)
	case schema.DeepLinkAddFolder:
		return base + "add/" + escapePath(a.Path)
	case schema.DeepLinkOpenSettings:
		if a.Section == "" {
			return base + "settings"
		}
		return base + "settings/" + escapePath(a.Section)
	default:
		return a.RawURL
	}
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// ParseGoto splits FILE:LINE[:COLUMN]. Colons are counted from the right so
// drive letters survive: when the last two segments are numbers they are
// line and column, otherwise the last segment alone is the line.
func ParseGoto(s string) (schema.DeepLinkAction, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return schema.DeepLinkAction{}, ErrInvalidGoto
	}
	n := len(parts)
	line, lineErr := number(parts[n-1])
	if len(parts) >= 3 {
		if l, err := number(parts[n-2]); err == nil && lineErr == nil {
			col := line
			path := strings.Join(parts[:n-2], ":")
			if path == "" || l < 1 || col < 1 {
				return schema.DeepLinkAction{}, ErrInvalidGoto
			}
			return schema.DeepLinkAction{Kind: schema.DeepLinkOpenGoto, Path: path, Line: l, Column: &col}, nil
		}
	}
	path := strings.Join(parts[:n-1], ":")
	if lineErr != nil || line < 1 || path == "" {
		return schema.DeepLinkAction{}, ErrInvalidGoto
	}
	return schema.DeepLinkAction{Kind: schema.DeepLinkOpenGoto, Path: path, Line: line}, nil
}

func number(s string) (int, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(s)
}

// Invocation is the launcher command line.
type Invocation struct {
	Path      string
	Goto      string
	Diff      []string
	NewWindow bool
	Add       string
}

// FromInvocation picks the action a launcher command line asks for. A bare
// path opens a folder when it is a directory and a file otherwise.
func FromInvocation(inv Invocation) (schema.DeepLinkAction, error) {
	switch {
	case inv.Goto != "":
		return ParseGoto(inv.Goto)
	case len(inv.Diff) > 0:
		if len(inv.Diff) != 2 || inv.Diff[0] == "" || inv.Diff[1] == "" {
			return schema.DeepLinkAction{}, schema.BadArgument("diff", "needs exactly two files")
		}
		return schema.DeepLinkAction{Kind: schema.DeepLinkOpenDiff, Left: inv.Diff[0], Right: inv.Diff[1]}, nil
	case inv.Add != "":
		return schema.DeepLinkAction{Kind: schema.DeepLinkAddFolder, Path: inv.Add}, nil
	case inv.Path != "":
		if info, err := os.Stat(inv.Path); err == nil && info.IsDir() {
			return schema.DeepLinkAction{Kind: schema.DeepLinkOpenFolder, Path: inv.Path, NewWindow: inv.NewWindow}, nil
		}
		return schema.DeepLinkAction{Kind: schema.DeepLinkOpenFile, Path: inv.Path}, nil
	default:
		return schema.DeepLinkAction{}, schema.BadArgument("path", "nothing to open")
	}
}
