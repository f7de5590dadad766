package lsp

import (
	"context"
	"encoding/json"

	"go.lsp.dev/protocol"
	"golang.org/x/sync/errgroup"

	"pkt.systems/cortex/schema"
)

// Sourced tags a result with the server that produced it.
type Sourced[T any] struct {
	ID     schema.SessionID `json:"id"`
	Result T                `json:"result"`
}

// fanOut calls every session in parallel and keeps the successes in the
// order of ids. Unknown ids and failing servers are logged and skipped.
func fanOut[T any](ctx context.Context, m *Manager, ids []schema.SessionID, call func(context.Context, *Session) (T, error)) []Sourced[T] {
	results := make([]*Sourced[T], len(ids))
	var g errgroup.Group
	for i, id := range ids {
		s, err := m.Session(id)
		if err != nil {
			m.logger.Debug("lsp fan-out skipped", "session", id, "err", err)
			continue
		}
		g.Go(func() error {
			res, err := call(ctx, s)
			if err != nil {
				m.logger.Debug("lsp fan-out request failed", "session", id, "err", err)
				return nil
			}
			results[i] = &Sourced[T]{ID: id, Result: res}
			return nil
		})
	}
	_ = g.Wait()
	out := make([]Sourced[T], 0, len(ids))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// MultiCompletion merges completion items from several servers.
func (m *Manager) MultiCompletion(ctx context.Context, ids []schema.SessionID, docURI string, pos protocol.Position, trigger *protocol.CompletionContext) CompletionList {
	merged := CompletionList{Items: []json.RawMessage{}}
	for _, r := range fanOut(ctx, m, ids, func(ctx context.Context, s *Session) (CompletionList, error) {
		return s.Completion(ctx, docURI, pos, trigger)
	}) {
		merged.IsIncomplete = merged.IsIncomplete || r.Result.IsIncomplete
		merged.Items = append(merged.Items, r.Result.Items...)
	}
	return merged
}

// MultiHover returns one hover per server that had something to show.
func (m *Manager) MultiHover(ctx context.Context, ids []schema.SessionID, docURI string, pos protocol.Position) []Sourced[json.RawMessage] {
	all := fanOut(ctx, m, ids, func(ctx context.Context, s *Session) (json.RawMessage, error) {
		return s.Hover(ctx, docURI, pos)
	})
	out := all[:0]
	for _, r := range all {
		if r.Result != nil {
			out = append(out, r)
		}
	}
	return out
}

func mergeLocations(results []Sourced[[]protocol.Location]) []protocol.Location {
	seen := make(map[protocol.Location]struct{})
	out := []protocol.Location{}
	for _, r := range results {
		for _, loc := range r.Result {
			if _, dup := seen[loc]; dup {
				continue
			}
			seen[loc] = struct{}{}
			out = append(out, loc)
		}
	}
	return out
}

// MultiDefinition merges definitions, dropping duplicates.
func (m *Manager) MultiDefinition(ctx context.Context, ids []schema.SessionID, docURI string, pos protocol.Position) []protocol.Location {
	return mergeLocations(fanOut(ctx, m, ids, func(ctx context.Context, s *Session) ([]protocol.Location, error) {
		return s.Definition(ctx, docURI, pos)
	}))
}

// MultiReferences merges references, dropping duplicates.
func (m *Manager) MultiReferences(ctx context.Context, ids []schema.SessionID, docURI string, pos protocol.Position, includeDeclaration bool) []protocol.Location {
	return mergeLocations(fanOut(ctx, m, ids, func(ctx context.Context, s *Session) ([]protocol.Location, error) {
		return s.References(ctx, docURI, pos, includeDeclaration)
	}))
}

// MultiCodeAction collects code actions per server.
func (m *Manager) MultiCodeAction(ctx context.Context, ids []schema.SessionID, docURI string, rng protocol.Range, diagnostics json.RawMessage, only []string) []Sourced[json.RawMessage] {
	return fanOut(ctx, m, ids, func(ctx context.Context, s *Session) (json.RawMessage, error) {
		return s.CodeAction(ctx, docURI, rng, diagnostics, only)
	})
}

// MultiDocumentSymbols collects document symbols per server.
func (m *Manager) MultiDocumentSymbols(ctx context.Context, ids []schema.SessionID, docURI string) []Sourced[json.RawMessage] {
	return fanOut(ctx, m, ids, func(ctx context.Context, s *Session) (json.RawMessage, error) {
		return s.DocumentSymbols(ctx, docURI)
	})
}

// MultiInlayHints collects inlay hints per server.
func (m *Manager) MultiInlayHints(ctx context.Context, ids []schema.SessionID, docURI string, rng protocol.Range) []Sourced[json.RawMessage] {
	return fanOut(ctx, m, ids, func(ctx context.Context, s *Session) (json.RawMessage, error) {
		return s.InlayHints(ctx, docURI, rng)
	})
}
