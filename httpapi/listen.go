package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"pkt.systems/cortex/schema"
	"pkt.systems/pslog"
)

// Listen binds addr, which must be a loopback address. With port 0 the chosen
// port is available from the listener's Addr.
func Listen(addr string) (net.Listener, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, schema.BadArgument("ipc.addr", err.Error())
	}
	if !isLoopback(host) {
		return nil, schema.BadArgument("ipc.addr", "must be a loopback address, got "+host)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, schema.IO(err)
	}
	return ln, nil
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Serve runs an HTTP server on ln and shuts it down on context cancellation.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	logger := pslog.Ctx(ctx)
	server := &http.Server{
		Handler:  handler,
		ErrorLog: pslog.LogLoggerWithLevel(logger, pslog.ErrorLevel),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
