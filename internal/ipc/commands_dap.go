package ipc

import (
	"context"
	"encoding/json"

	"pkt.systems/cortex/internal/dap"
	"pkt.systems/cortex/internal/jsonrpc"
	"pkt.systems/cortex/schema"
)

func registerDAP(r *Router, m *dap.Manager) {
	r.Register("debug_start_session", typed(func(ctx context.Context, cfg schema.DAPAdapterConfig) (schema.DAPSessionInfo, error) {
		return m.Start(ctx, cfg)
	}))
	r.Register("debug_stop_session", action(func(ctx context.Context, p schema.SessionRef) error {
		return m.Stop(ctx, p.ID)
	}))
	r.Register("debug_list_sessions", query(func(context.Context) ([]schema.DAPSessionInfo, error) {
		return m.List(), nil
	}))
	r.Register("debug_get_session", typed(func(_ context.Context, p schema.SessionRef) (schema.DAPSessionInfo, error) {
		s, err := m.Session(p.ID)
		if err != nil {
			return schema.DAPSessionInfo{}, err
		}
		return s.Info(), nil
	}))
	r.Register("debug_respond", action(func(_ context.Context, p schema.DAPRespondParams) error {
		return m.Respond(p.ID, p.Seq, p.Success, p.Message, p.Body)
	}))
	r.Register("debug_request", typed(func(ctx context.Context, p schema.DAPRawRequestParams) (json.RawMessage, error) {
		return m.Request(ctx, p.ID, p.Command, arguments(p.Arguments))
	}))
	for suffix, command := range dap.Commands {
		r.Register("debug_"+suffix, typed(func(ctx context.Context, p schema.DAPRequestParams) (json.RawMessage, error) {
			if err := requireID(p.ID); err != nil {
				return nil, err
			}
			return m.Request(ctx, p.ID, command, arguments(p.Arguments))
		}))
	}
}

// arguments drops absent arguments so the request omits the field.
func arguments(raw schema.RawJSON) any {
	if jsonrpc.IsNull(raw) {
		return nil
	}
	return raw
}
