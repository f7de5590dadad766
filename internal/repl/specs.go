package repl

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

const probeTimeout = 2 * time.Second

type candidate struct {
	name     string
	display  string
	language string
	binaries []string
	args     []string
	env      map[string]string
}

var candidates = []candidate{
	{
		name:     "python",
		display:  "Python",
		language: "python",
		binaries: []string{"python3", "python"},
		args:     []string{"-i", "-u", "-q"},
		env:      map[string]string{"PYTHONUNBUFFERED": "1", "PYTHONIOENCODING": "utf-8"},
	},
	{
		name:     "node",
		display:  "Node.js",
		language: "javascript",
		binaries: []string{"node"},
		args:     []string{"-i"},
		env:      map[string]string{"NODE_NO_READLINE": "1", "NODE_DISABLE_COLORS": "1"},
	},
}

// languageEnv returns the interpreter environment for a language.
func languageEnv(language string) map[string]string {
	for _, c := range candidates {
		if c.language == language {
			return c.env
		}
	}
	return nil
}

// Probe finds the supported interpreters on PATH. Probes run concurrently;
// an interpreter that fails its version check is still listed.
func Probe(ctx context.Context) []schema.KernelSpec {
	logger := pslog.Ctx(ctx)
	found := make([]*schema.KernelSpec, len(candidates))
	var g errgroup.Group
	for i, c := range candidates {
		g.Go(func() error {
			path := lookPath(c.binaries)
			if path == "" {
				return nil
			}
			spec := schema.KernelSpec{
				Name:        c.name,
				DisplayName: c.display,
				Language:    c.language,
				Interpreter: path,
				Args:        c.args,
			}
			if v := interpreterVersion(ctx, path); v != "" {
				spec.DisplayName = c.display + " " + v
			}
			found[i] = &spec
			return nil
		})
	}
	_ = g.Wait()
	out := make([]schema.KernelSpec, 0, len(found))
	for _, spec := range found {
		if spec != nil {
			out = append(out, *spec)
		}
	}
	logger.Debug("repl probe ok", "kernels", len(out))
	return out
}

func lookPath(names []string) string {
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

func interpreterVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return ""
	}
	v := strings.TrimSpace(string(out))
	if i := strings.IndexByte(v, '\n'); i >= 0 {
		v = v[:i]
	}
	v = strings.TrimPrefix(v, "Python ")
	return strings.TrimPrefix(v, "v")
}
