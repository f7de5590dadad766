package ipc

import (
	"context"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/internal/credstore"
	"pkt.systems/cortex/internal/dap"
	"pkt.systems/cortex/internal/fsbatch"
	"pkt.systems/cortex/internal/lsp"
	"pkt.systems/cortex/internal/persist"
	"pkt.systems/cortex/internal/remote"
	"pkt.systems/cortex/internal/repl"
	"pkt.systems/cortex/internal/terminal"
	"pkt.systems/pslog"
)

// Services are the backends the commands drive. A nil backend leaves its
// commands unregistered.
type Services struct {
	Sink      core.EventSink
	Terminals *terminal.Manager
	SSH       *remote.Manager
	LSP       *lsp.Manager
	DAP       *dap.Manager
	REPL      *repl.Manager
	FS        *fsbatch.Service
	State     *persist.Store
	Secrets   credstore.Store
	// Focus is called after a deep link was accepted.
	Focus func()
}

// New builds a router with every available command registered.
func New(svc Services, logger pslog.Logger) *Router {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if svc.Sink == nil {
		svc.Sink = core.DiscardSink{}
	}
	r := NewRouter(logger)
	if svc.Terminals != nil {
		registerTerminal(r, svc.Terminals)
	}
	if svc.SSH != nil {
		registerSSH(r, svc.SSH)
	}
	if svc.State != nil {
		registerProfiles(r, svc.State, svc.Secrets)
		registerWindows(r, svc.State)
	}
	if svc.LSP != nil {
		registerLSP(r, svc.LSP)
	}
	if svc.DAP != nil {
		registerDAP(r, svc.DAP)
	}
	if svc.REPL != nil {
		registerREPL(r, svc.REPL)
	}
	if svc.FS != nil {
		registerFS(r, svc.FS)
	}
	registerDeepLink(r, svc.Sink, svc.Focus)
	return r
}
