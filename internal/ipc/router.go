// Package ipc is the renderer command surface: a table of named commands
// taking JSON params and returning JSON-serializable results.
package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"pkt.systems/cortex/internal/logx"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// Handler runs one command. params may be empty.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Router dispatches commands by name.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   pslog.Logger
}

// NewRouter constructs an empty router.
func NewRouter(logger pslog.Logger) *Router {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Router{handlers: make(map[string]Handler), logger: logger}
}

// Register adds or replaces a command.
func (r *Router) Register(name string, h Handler) {
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

// Commands lists the registered command names, sorted.
func (r *Router) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs a command. Unknown commands fail with NotFound. Params are
// never logged since some commands carry secrets.
func (r *Router) Invoke(ctx context.Context, name string, params json.RawMessage) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NotFound("command", name)
	}
	log := r.logger.With("command", name)
	ctx = logx.ContextWithCommandLogger(ctx, log, name)
	start := time.Now()
	log.Trace("ipc command start")
	res, err := h(ctx, params)
	if err != nil {
		level := log.Debug
		if k := schema.KindOf(err); k == schema.KindInternal || k == schema.KindIO || k == schema.KindProtocol {
			level = log.Warn
		}
		level("ipc command failed", "kind", schema.KindOf(err), "err", err, "elapsed", time.Since(start))
		return nil, err
	}
	log.Trace("ipc command ok", "elapsed", time.Since(start))
	return res, nil
}

// decode unmarshals params into a P. Absent or null params leave the zero
// value.
func decode[P any](raw json.RawMessage) (P, error) {
	var p P
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return p, nil
	}
	if err := json.Unmarshal(trimmed, &p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return p, schema.BadArgument(typeErr.Field, "has the wrong type")
		}
		return p, schema.BadArgument("params", err.Error())
	}
	return p, nil
}

// typed adapts a function with decoded params and a result.
func typed[P, R any](fn func(context.Context, P) (R, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decode[P](raw)
		if err != nil {
			return nil, err
		}
		return fn(ctx, p)
	}
}

// action adapts a function with decoded params and no result.
func action[P any](fn func(context.Context, P) error) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		p, err := decode[P](raw)
		if err != nil {
			return nil, err
		}
		return nil, fn(ctx, p)
	}
}

// query adapts a function without params.
func query[R any](fn func(context.Context) (R, error)) Handler {
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		return fn(ctx)
	}
}

func requireID(id schema.SessionID) error {
	if id == "" {
		return schema.BadArgument("id", "is required")
	}
	return nil
}
