package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/cortex/core"
	"pkt.systems/cortex/httpapi"
	"pkt.systems/cortex/internal/appconfig"
	"pkt.systems/cortex/internal/credstore"
	"pkt.systems/cortex/internal/repl"
	"pkt.systems/cortex/internal/sshagent"
	"pkt.systems/cortex/internal/sshkeys"
	"pkt.systems/cortex/internal/terminal"
	"pkt.systems/pslog"
)

func newDoctorCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run cortex diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			configPath := cfgPath
			if strings.TrimSpace(configPath) == "" {
				if configPath, err = appconfig.DefaultConfigPath(); err != nil {
					return err
				}
			}
			return runDoctor(cmd.Context(), cmd.OutOrStdout(), cfg, configPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

func runDoctor(ctx context.Context, out io.Writer, cfg appconfig.Config, configPath string) error {
	logger := pslog.Ctx(ctx)
	logger.Info("doctor start", "config", configPath)
	_, _ = fmt.Fprintf(out, "config:      %s\n", configPath)

	if err := doctorStateDir(ctx, out, cfg.StateDir); err != nil {
		return err
	}
	logger.Info("doctor state dir ok", "path", cfg.StateDir)

	shells := terminal.DetectShells()
	for _, sh := range shells {
		marker := ""
		if sh.Default {
			marker = " (default)"
		}
		_, _ = fmt.Fprintf(out, "shell:       %s %s%s\n", sh.Name, sh.Path, marker)
	}
	if len(shells) == 0 {
		_, _ = fmt.Fprintln(out, "shell:       none found")
	}
	logger.Info("doctor shells ok", "count", len(shells))

	kernels := repl.NewManager(repl.Config{}, core.NewRegistry(logger), core.DiscardSink{}, logger)
	specs := kernels.Specs(ctx)
	for _, spec := range specs {
		_, _ = fmt.Fprintf(out, "kernel:      %s %s\n", spec.Name, spec.Interpreter)
	}
	if len(specs) == 0 {
		_, _ = fmt.Fprintln(out, "kernel:      none found")
	}
	logger.Info("doctor kernels ok", "count", len(specs))

	store, err := credstore.Open(ctx, credstore.Config{
		Backend:      cfg.Credentials.Backend,
		Service:      cfg.Credentials.Service,
		KeyStorePath: cfg.Credentials.KeyStorePath,
		VaultPath:    cfg.Credentials.VaultPath,
	})
	if err != nil {
		_, _ = fmt.Fprintf(out, "credentials: unavailable (%v)\n", err)
		logger.Warn("doctor credentials failed", "err", err)
	} else {
		_, _ = fmt.Fprintf(out, "credentials: %s\n", store.Backend())
		logger.Info("doctor credentials ok", "backend", store.Backend())
	}

	doctorAgent(ctx, out)
	doctorIdentities(out)

	client, err := httpapi.Connect(ctx, filepath.Join(cfg.StateDir, httpapi.InstanceFile))
	switch {
	case err == nil:
		inst := client.Instance()
		_, _ = fmt.Fprintf(out, "instance:    running pid %d on %s\n", inst.PID, inst.Addr)
	case errors.Is(err, httpapi.ErrNoInstance):
		_, _ = fmt.Fprintln(out, "instance:    not running")
	default:
		_, _ = fmt.Fprintf(out, "instance:    unreadable (%v)\n", err)
		logger.Warn("doctor instance failed", "err", err)
	}
	logger.Info("doctor complete")
	return nil
}

func doctorStateDir(ctx context.Context, out io.Writer, dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		_, _ = fmt.Fprintf(out, "state dir:   %s (created on first start)\n", dir)
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("state dir %s is not a directory", dir)
	}
	perm := info.Mode().Perm()
	_, _ = fmt.Fprintf(out, "state dir:   %s %04o\n", dir, perm)
	if perm&0o077 != 0 {
		_, _ = fmt.Fprintln(out, "warning:     state dir is readable by group or others")
		pslog.Ctx(ctx).Warn("doctor state dir permissions too open", "path", dir, "perm", fmt.Sprintf("%04o", perm))
	}
	return nil
}

func doctorAgent(ctx context.Context, out io.Writer) {
	conn, err := sshagent.Dial("")
	if err != nil {
		_, _ = fmt.Fprintf(out, "ssh agent:   unavailable (%v)\n", err)
		return
	}
	defer func() { _ = conn.Close() }()
	fingerprints, err := conn.Fingerprints()
	if err != nil {
		_, _ = fmt.Fprintf(out, "ssh agent:   %s (%v)\n", sshagent.SocketPath(), err)
		return
	}
	_, _ = fmt.Fprintf(out, "ssh agent:   %s with %d keys\n", sshagent.SocketPath(), len(fingerprints))
	pslog.Ctx(ctx).Info("doctor ssh agent ok", "keys", len(fingerprints))
}

func doctorIdentities(out io.Writer) {
	files := sshkeys.DefaultIdentityFiles()
	if len(files) == 0 {
		_, _ = fmt.Fprintln(out, "ssh keys:    none in ~/.ssh")
		return
	}
	for _, f := range files {
		_, _ = fmt.Fprintf(out, "ssh key:     %s\n", f)
	}
}
