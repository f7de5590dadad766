package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/cortex"
	"pkt.systems/cortex/internal/appconfig"
	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve [url]",
		Short: "Run the cortex backend in the foreground",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			server, err := cortex.New(cortex.ServerConfig{Config: cfg}, cortex.ServerDeps{Logger: logger}, cortex.WithTransport())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			logger.Info("ipc server listening", "addr", server.Addr())
			if len(args) == 1 {
				openInitialLink(ctx, server, args[0])
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

// openInitialLink applies the link the launcher started us with. Failures are
// logged; the backend keeps running.
func openInitialLink(ctx context.Context, server cortex.Server, link string) {
	logger := pslog.Ctx(ctx)
	params, err := json.Marshal(schema.DeepLinkParams{URL: link})
	if err != nil {
		logger.Warn("deep link failed", "err", err)
		return
	}
	if _, err := server.Router().Invoke(ctx, "deep_link_open", params); err != nil {
		logger.Warn("deep link failed", "err", err)
	}
}
