// Package server runs the peer's HTTP listeners with graceful shutdown
// and signal handling.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-collab/pkg/logging"
)

// ConfigReloadFunc is a function that reloads configuration
type ConfigReloadFunc func() error

// GracefulServer wraps an HTTP server with graceful shutdown capabilities
type GracefulServer struct {
	name       string
	server     *http.Server
	logger     logging.Logger
	listener   net.Listener
	shutdownCh chan struct{}

	shutdownOnce sync.Once
	mu           sync.Mutex
}

// NewGracefulServer creates a server named for logging. Write timeouts are
// left to the handlers because websocket connections are long-lived.
func NewGracefulServer(name, addr string, handler http.Handler, logger logging.Logger) *GracefulServer {
	return &GracefulServer{
		name: name,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		logger:     logging.OrNop(logger).With(logging.Component("http"), logging.String("server", name)),
		shutdownCh: make(chan struct{}),
	}
}

// Listen binds the address without serving. Addr reports the bound
// address afterwards, which matters for ":0".
func (gs *GracefulServer) Listen() error {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if gs.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return err
	}
	gs.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen
func (gs *GracefulServer) Addr() string {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if gs.listener != nil {
		return gs.listener.Addr().String()
	}
	return gs.server.Addr
}

// Start serves until Shutdown. It binds first if Listen was not called.
func (gs *GracefulServer) Start() error {
	if err := gs.Listen(); err != nil {
		return err
	}
	gs.mu.Lock()
	ln := gs.listener
	gs.mu.Unlock()

	gs.logger.Info("starting HTTP server", logging.Addr(ln.Addr().String()))
	if err := gs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown initiates a graceful shutdown bounded by ctx
func (gs *GracefulServer) Shutdown(ctx context.Context) error {
	var err error
	gs.shutdownOnce.Do(func() {
		close(gs.shutdownCh)
		gs.logger.Info("initiating graceful shutdown")

		err = gs.server.Shutdown(ctx)

		// a listener bound by Listen but never served is not closed by Shutdown
		gs.mu.Lock()
		if gs.listener != nil {
			_ = gs.listener.Close()
		}
		gs.mu.Unlock()

		if err != nil {
			gs.logger.Error("shutdown failed", logging.Error(err))
			return
		}
		gs.logger.Info("server shutdown complete")
	})
	return err
}

// RegisterOnShutdown runs fn when shutdown starts. Hijacked websocket
// connections are not tracked by http.Server, so their owner closes them here.
func (gs *GracefulServer) RegisterOnShutdown(fn func()) {
	gs.server.RegisterOnShutdown(fn)
}

// IsShuttingDown returns true if shutdown has been initiated
func (gs *GracefulServer) IsShuttingDown() bool {
	select {
	case <-gs.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownChannel returns a channel that closes when shutdown is initiated
func (gs *GracefulServer) ShutdownChannel() <-chan struct{} {
	return gs.shutdownCh
}

// WaitForSignal blocks until SIGINT or SIGTERM arrives or ctx is done.
// SIGHUP runs reload (if set) and keeps waiting.
func WaitForSignal(ctx context.Context, reload ConfigReloadFunc, logger logging.Logger) os.Signal {
	logger = logging.OrNop(logger).With(logging.Component("signals"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			if sig != syscall.SIGHUP {
				logger.Info("received shutdown signal", logging.String("signal", sig.String()))
				return sig
			}
			if reload == nil {
				logger.Info("configuration reload requested, but no reload function configured")
				continue
			}
			if err := reload(); err != nil {
				logger.Error("configuration reload failed", logging.Error(err))
				continue
			}
			logger.Info("configuration reload complete")
		}
	}
}
