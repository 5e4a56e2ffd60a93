package serve

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/echoheir/echoheir-service/internal/config"
)

// startHTTPServer binds a TCP listener for the given config and serves the
// handler on it. Port 0 binds an OS-assigned random port, which is what the
// tests use. Returns the bound address and a shutdown function.
func startHTTPServer(cfg config.ListenerConfig, handler http.Handler) (net.Addr, func(context.Context) error, error) {
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, nil, fmt.Errorf("listen failed: %w", err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	go func() {
		if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "err", err)
		}
	}()

	var closeOnce sync.Once
	closeFn := func(ctx context.Context) error {
		var shutdownErr error
		closeOnce.Do(func() {
			if err := srv.Shutdown(ctx); err != nil && err != context.Canceled {
				shutdownErr = err
			}
			_ = lis.Close()
		})
		return shutdownErr
	}
	return lis.Addr(), closeFn, nil
}
