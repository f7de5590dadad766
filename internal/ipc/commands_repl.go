package ipc

import (
	"context"

	"pkt.systems/cortex/internal/repl"
	"pkt.systems/cortex/schema"
)

func registerREPL(r *Router, m *repl.Manager) {
	r.Register("repl_list_kernel_specs", query(func(ctx context.Context) ([]schema.KernelSpec, error) {
		return m.Specs(ctx), nil
	}))
	r.Register("repl_start_kernel", typed(func(ctx context.Context, p schema.KernelStartParams) (schema.KernelInfo, error) {
		if p.Spec == "" {
			return schema.KernelInfo{}, schema.BadArgument("spec", "is required")
		}
		return m.Start(ctx, p.Spec)
	}))
	r.Register("repl_execute", typed(func(_ context.Context, p schema.KernelExecuteParams) (schema.KernelExecuteResult, error) {
		n, err := m.Execute(p.ID, p.Code, p.CellID)
		if err != nil {
			return schema.KernelExecuteResult{}, err
		}
		return schema.KernelExecuteResult{ExecutionCount: n}, nil
	}))
	r.Register("repl_interrupt", action(func(_ context.Context, p schema.SessionRef) error {
		return m.Interrupt(p.ID)
	}))
	r.Register("repl_shutdown_kernel", action(func(ctx context.Context, p schema.SessionRef) error {
		return m.Shutdown(ctx, p.ID)
	}))
	r.Register("repl_restart_kernel", typed(func(ctx context.Context, p schema.SessionRef) (schema.KernelInfo, error) {
		return m.Restart(ctx, p.ID)
	}))
	r.Register("repl_list_kernels", query(func(context.Context) ([]schema.KernelInfo, error) {
		return m.List(), nil
	}))
	r.Register("repl_get_kernel", typed(func(_ context.Context, p schema.SessionRef) (schema.KernelInfo, error) {
		return m.Get(p.ID)
	}))
}
