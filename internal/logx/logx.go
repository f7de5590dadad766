package logx

import (
	"context"

	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	sessionKey contextKey = iota
	commandKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with session id and kind when available.
func WithSession(log pslog.Logger, kind schema.SessionKind, sessionID schema.SessionID) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	if kind != "" {
		log = log.With("kind", kind)
	}
	return log
}

// SessionLogger derives a session logger from ctx, skipping fields the
// context logger already carries.
func SessionLogger(ctx context.Context, kind schema.SessionKind, sessionID schema.SessionID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
		return log
	}
	return WithSession(log, kind, sessionID)
}

// WithCommand annotates the logger with the IPC command name.
func WithCommand(ctx context.Context, command string) pslog.Logger {
	log := pslog.Ctx(ctx)
	if command == "" {
		return log
	}
	if current, ok := ctx.Value(commandKey).(string); ok && current == command {
		return log
	}
	return log.With("command", command)
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithCommandLogger attaches the logger and command marker to the context.
func ContextWithCommandLogger(ctx context.Context, log pslog.Logger, command string) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	if command == "" {
		return ctx
	}
	return context.WithValue(ctx, commandKey, command)
}

// CopyContextFields copies session and command markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if id, ok := src.Value(sessionKey).(schema.SessionID); ok && id != "" {
		dst = ContextWithSession(dst, id)
	}
	if cmd, ok := src.Value(commandKey).(string); ok && cmd != "" {
		dst = context.WithValue(dst, commandKey, cmd)
	}
	return dst
}
