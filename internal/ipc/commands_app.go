package ipc

import (
	"context"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/internal/deeplink"
	"pkt.systems/cortex/internal/persist"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

func registerWindows(r *Router, store *persist.Store) {
	r.Register("window_session_save", typed(func(_ context.Context, p schema.WindowSnapshot) (schema.WindowSnapshot, error) {
		return store.SaveWindow(p)
	}))
	r.Register("window_session_load", typed(func(_ context.Context, p schema.WindowRef) (schema.WindowSnapshot, error) {
		if p.WindowID == "" {
			return schema.WindowSnapshot{}, schema.BadArgument("windowId", "is required")
		}
		return store.LoadWindow(p.WindowID)
	}))
	r.Register("window_session_list", query(func(context.Context) ([]schema.WindowSnapshot, error) {
		out, err := store.ListWindows()
		if out == nil && err == nil {
			out = []schema.WindowSnapshot{}
		}
		return out, err
	}))
	r.Register("settings_load", typed(func(_ context.Context, p schema.SettingsParams) (schema.RawJSON, error) {
		if p.Section != "" {
			return store.Section(p.Section)
		}
		return store.LoadSettings()
	}))
}

func registerDeepLink(r *Router, sink core.EventSink, focus func()) {
	r.Register("deep_link_open", typed(func(ctx context.Context, p schema.DeepLinkParams) (schema.DeepLinkAction, error) {
		if p.URL == "" {
			return schema.DeepLinkAction{}, schema.BadArgument("url", "is required")
		}
		return OpenDeepLink(ctx, sink, focus, p.URL), nil
	}))
	r.Register("deep_link_parse", typed(func(_ context.Context, p schema.DeepLinkParams) (schema.DeepLinkAction, error) {
		return deeplink.Parse(p.URL), nil
	}))
}

// OpenDeepLink parses a received URL, emits it on the deep-link topic and
// focuses the main window. Unknown URLs are emitted too.
func OpenDeepLink(ctx context.Context, sink core.EventSink, focus func(), raw string) schema.DeepLinkAction {
	act := deeplink.Parse(raw)
	log := pslog.Ctx(ctx)
	log.Info("deep link received", "action", act.Kind)
	if err := sink.Emit(schema.TopicDeepLink, act); err != nil {
		log.Warn("deep link emit failed", "err", err)
	}
	if focus != nil {
		focus()
	}
	return act
}
