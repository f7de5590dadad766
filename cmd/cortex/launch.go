package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"pkt.systems/cortex/httpapi"
	"pkt.systems/cortex/internal/appconfig"
	"pkt.systems/cortex/internal/deeplink"
	"pkt.systems/cortex/internal/process"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

type launchOptions struct {
	configPath string
	gotoTarget string
	diff       bool
	newWindow  bool
	add        string
	wait       bool
}

func newLaunchCmd() *cobra.Command {
	var opts launchOptions
	cmd := &cobra.Command{
		Use:           "cortex [path]",
		Short:         "Open files and folders in the Cortex IDE",
		Args:          cobra.MaximumNArgs(2),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := opts.link(args)
			if err != nil {
				return err
			}
			cfg, err := appconfig.Load(opts.configPath)
			if err != nil {
				return err
			}
			l := launcher{
				instancePath: filepath.Join(cfg.StateDir, httpapi.InstanceFile),
				configPath:   opts.configPath,
				spawn:        spawnServe,
			}
			return l.run(cmd.Context(), link, opts.wait)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&opts.gotoTarget, "goto", "g", "", "open FILE:LINE[:COLUMN]")
	cmd.Flags().BoolVarP(&opts.diff, "diff", "d", false, "compare the two given files")
	cmd.Flags().BoolVarP(&opts.newWindow, "new-window", "n", false, "open the folder in a new window")
	cmd.Flags().StringVarP(&opts.add, "add", "a", "", "add a folder to the current workspace")
	cmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "wait for the application to exit")
	return cmd
}

// link turns the command line into a deep link. No target yields "".
func (o launchOptions) link(args []string) (string, error) {
	inv := deeplink.Invocation{Goto: o.gotoTarget, NewWindow: o.newWindow, Add: o.add}
	switch {
	case o.diff:
		inv.Diff = args
		if len(args) != 2 {
			return "", schema.BadArgument("diff", "needs exactly two files")
		}
	case len(args) > 1:
		return "", schema.BadArgument("path", "only one path may be opened")
	case len(args) == 1:
		inv.Path = args[0]
	}
	if inv.Path == "" && inv.Goto == "" && inv.Add == "" && len(inv.Diff) == 0 {
		return "", nil
	}
	act, err := deeplink.FromInvocation(inv)
	if err != nil {
		return "", err
	}
	absolutize(&act)
	return deeplink.Build(act), nil
}

// absolutize resolves relative paths against the launcher's working
// directory; the running backend has its own.
func absolutize(act *schema.DeepLinkAction) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		if resolved, err := filepath.Abs(p); err == nil {
			return resolved
		}
		return p
	}
	act.Path = abs(act.Path)
	act.Left = abs(act.Left)
	act.Right = abs(act.Right)
}

type spawnFunc func(ctx context.Context, args []string, wait bool) error

type launcher struct {
	instancePath string
	configPath   string
	spawn        spawnFunc
}

// run forwards link to a running instance or starts a new one with link as
// its argument.
func (l launcher) run(ctx context.Context, link string, wait bool) error {
	log := pslog.Ctx(ctx)
	client, err := httpapi.Connect(ctx, l.instancePath)
	switch {
	case err == nil:
		if wait {
			return schema.Unsupported("--wait with an already running instance")
		}
		if link == "" {
			log.Info("cortex already running", "pid", client.Instance().PID)
			return nil
		}
		var act schema.DeepLinkAction
		if err := client.Invoke(ctx, "deep_link_open", schema.DeepLinkParams{URL: link}, &act); err != nil {
			return err
		}
		log.Info("deep link forwarded", "kind", act.Kind, "pid", client.Instance().PID)
		return nil
	case errors.Is(err, httpapi.ErrNoInstance):
		args := []string{"serve"}
		if l.configPath != "" {
			args = append(args, "--config", l.configPath)
		}
		if link != "" {
			args = append(args, link)
		}
		return l.spawn(ctx, args, wait)
	default:
		return err
	}
}

// spawnServe starts the backend from this executable. It is not bound to ctx:
// the backend outlives the launcher unless wait is set.
func spawnServe(ctx context.Context, args []string, wait bool) error {
	log := pslog.Ctx(ctx)
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, args...)
	if wait {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		log.Info("cortex start", "wait", true)
		return cmd.Run()
	}
	cmd.SysProcAttr = process.DetachAttr()
	if err := cmd.Start(); err != nil {
		return err
	}
	log.Info("cortex launched", "pid", cmd.Process.Pid)
	return cmd.Process.Release()
}
