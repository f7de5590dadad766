package ipc

import (
	"context"

	"pkt.systems/cortex/internal/terminal"
	"pkt.systems/cortex/schema"
)

func registerTerminal(r *Router, m *terminal.Manager) {
	r.Register("terminal_create", typed(func(ctx context.Context, p schema.TerminalCreateParams) (schema.TerminalInfo, error) {
		return m.Create(ctx, terminal.Options{
			Name:             p.Name,
			Shell:            p.Shell,
			Args:             p.Args,
			Cwd:              p.Cwd,
			Cols:             p.Cols,
			Rows:             p.Rows,
			Env:              p.Env,
			ShellIntegration: p.ShellIntegration,
		})
	}))
	r.Register("terminal_write", action(func(_ context.Context, p schema.WriteParams) error {
		return m.Write(p.ID, p.Data)
	}))
	r.Register("terminal_update", typed(func(_ context.Context, p schema.TerminalUpdateParams) (schema.TerminalInfo, error) {
		return m.Update(p.ID, p.Name)
	}))
	r.Register("terminal_resize", action(func(_ context.Context, p schema.ResizeParams) error {
		return m.Resize(p.ID, p.Cols, p.Rows)
	}))
	r.Register("terminal_close", action(func(ctx context.Context, p schema.SessionRef) error {
		return m.Close(ctx, p.ID)
	}))
	r.Register("terminal_list", query(func(context.Context) ([]schema.TerminalInfo, error) {
		return m.List(), nil
	}))
	r.Register("terminal_get", typed(func(_ context.Context, p schema.SessionRef) (schema.TerminalInfo, error) {
		return m.Get(p.ID)
	}))
	r.Register("terminal_interrupt", action(func(_ context.Context, p schema.SessionRef) error {
		return m.Interrupt(p.ID)
	}))
	r.Register("terminal_eof", action(func(_ context.Context, p schema.SessionRef) error {
		return m.EOF(p.ID)
	}))
	r.Register("terminal_ack", action(func(_ context.Context, p schema.AckParams) error {
		return m.Ack(p.ID, p.Bytes)
	}))
	r.Register("terminal_close_all", query(func(ctx context.Context) (schema.CloseAllResult, error) {
		return schema.CloseAllResult{Closed: m.CloseAll(ctx)}, nil
	}))
	r.Register("terminal_default_shell", query(func(context.Context) (string, error) {
		return m.DefaultShell(), nil
	}))
	r.Register("terminal_detect_shells", query(func(context.Context) ([]schema.ShellInfo, error) {
		return terminal.DetectShells(), nil
	}))
	r.Register("get_process_on_port", typed(func(ctx context.Context, p schema.PortParams) (schema.PortProcess, error) {
		return terminal.ProcessOnPort(ctx, p.Port)
	}))
	r.Register("kill_process_on_port", typed(func(ctx context.Context, p schema.PortParams) (schema.PortProcess, error) {
		return terminal.KillProcessOnPort(ctx, p.Port)
	}))
	r.Register("list_listening_ports", query(terminal.ListeningPorts))
}
