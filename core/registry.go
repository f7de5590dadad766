package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// ErrSessionExists is returned when inserting an id that is already live.
var ErrSessionExists = errors.New("session already registered")

// ErrRegistryClosed is returned when inserting after the registry was drained.
var ErrRegistryClosed = errors.New("session registry closed")

// DefaultDrainBudget bounds the graceful close of all sessions on exit.
const DefaultDrainBudget = 2 * time.Second

// Session is a registered long-lived session. Close must be idempotent and
// Kill must release OS resources without blocking.
type Session interface {
	ID() schema.SessionID
	Kind() schema.SessionKind
	Close(ctx context.Context) error
	Kill()
}

// Registry maps session ids to their sole owning handle.
type Registry struct {
	logger pslog.Logger

	mu       sync.Mutex
	sessions map[schema.SessionID]Session
	order    []schema.SessionID
	closed   bool
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger pslog.Logger) *Registry {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Registry{
		logger:   logger,
		sessions: make(map[schema.SessionID]Session),
	}
}

// Insert registers a fully constructed session and returns its id.
func (r *Registry) Insert(s Session) (schema.SessionID, error) {
	if s == nil {
		return "", errors.New("session is nil")
	}
	id := s.ID()
	if id == "" {
		return "", errors.New("session id is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrRegistryClosed
	}
	if _, ok := r.sessions[id]; ok {
		return "", fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	r.sessions[id] = s
	r.order = append(r.order, id)
	r.logger.Debug("registry insert", "session", id, "kind", s.Kind())
	return id, nil
}

// Get returns the live session for id.
func (r *Registry) Get(id schema.SessionID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove unregisters id and hands the session back to the caller, who owns
// its teardown from then on. Only the first call for an id reports true.
func (r *Registry) Remove(id schema.SessionID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Debug("registry remove", "session", id, "kind", s.Kind())
	return s, true
}

// Take removes id only when it is a session of kind.
func (r *Registry) Take(id schema.SessionID, kind schema.SessionKind) (Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok || s.Kind() != kind {
		return nil, false
	}
	return r.Remove(id)
}

// List returns a snapshot of live sessions of the given kind in creation
// order. An empty kind lists every session.
func (r *Registry) List(kind schema.SessionKind) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.order))
	for _, id := range r.order {
		s := r.sessions[id]
		if kind != "" && s.Kind() != kind {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Lookup resolves id to a session of kind and concrete type T.
func Lookup[T Session](r *Registry, id schema.SessionID, kind schema.SessionKind) (T, error) {
	var zero T
	s, ok := r.Get(id)
	if !ok || s.Kind() != kind {
		return zero, schema.NotFound(string(kind)+" session", string(id))
	}
	typed, ok := s.(T)
	if !ok {
		return zero, schema.NotFound(string(kind)+" session", string(id))
	}
	return typed, nil
}

// CloseKind removes and gracefully closes every session of kind.
func (r *Registry) CloseKind(ctx context.Context, kind schema.SessionKind) int {
	sessions := r.List(kind)
	removed := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if _, ok := r.Remove(s.ID()); ok {
			removed = append(removed, s)
		}
	}
	closeAll(ctx, r.logger, removed)
	return len(removed)
}

// Drain closes the registry to new sessions, removes every live session and
// runs their graceful close concurrently within budget. Sessions still open
// when the budget expires are killed.
func (r *Registry) Drain(ctx context.Context, budget time.Duration) {
	if budget <= 0 {
		budget = DefaultDrainBudget
	}
	r.mu.Lock()
	r.closed = true
	sessions := make([]Session, 0, len(r.order))
	for _, id := range r.order {
		sessions = append(sessions, r.sessions[id])
	}
	r.sessions = make(map[schema.SessionID]Session)
	r.order = nil
	r.mu.Unlock()

	if len(sessions) == 0 {
		return
	}
	r.logger.Info("registry drain start", "sessions", len(sessions), "budget", budget)
	drainCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	closeAll(drainCtx, r.logger, sessions)
	r.logger.Info("registry drain ok", "sessions", len(sessions))
}

func closeAll(ctx context.Context, logger pslog.Logger, sessions []Session) {
	if len(sessions) == 0 {
		return
	}
	var wg sync.WaitGroup
	done := make([]chan struct{}, len(sessions))
	for i, s := range sessions {
		done[i] = make(chan struct{})
		wg.Add(1)
		go func(s Session, done chan struct{}) {
			defer wg.Done()
			defer close(done)
			if err := s.Close(ctx); err != nil {
				logger.Warn("session close failed", "session", s.ID(), "kind", s.Kind(), "err", err)
			}
		}(s, done[i])
	}
	all := make(chan struct{})
	go func() {
		wg.Wait()
		close(all)
	}()
	select {
	case <-all:
		return
	case <-ctx.Done():
	}
	for i, s := range sessions {
		select {
		case <-done[i]:
		default:
			logger.Warn("session kill after close budget", "session", s.ID(), "kind", s.Kind())
			s.Kill()
		}
	}
}
