// Package server constructs and runs the GoChat listeners: the line-framed TCP
// accept loop and the optional HTTP surface for WebSocket clients and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Server binds the configured addresses and hands every accepted connection
// to its Hub.
type Server struct {
	cfg    Config
	logger *slog.Logger
	hub    *Hub

	tcpListener  net.Listener
	httpListener net.Listener
	httpServer   *http.Server

	// conns tracks every connection-serving goroutine, TCP and WebSocket.
	// connsMu and draining keep Add from racing the final Wait.
	conns    sync.WaitGroup
	connsMu  sync.Mutex
	draining bool
	// baseCtx is cancelled when Serve begins shutting down.
	baseCtx context.Context
}

// NewServer creates a Server and its Hub from cfg.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = SanitizeConfig(cfg)
	return &Server{
		cfg:    cfg,
		logger: logger,
		hub:    NewHub(cfg, logger),
	}
}

// Hub returns the hub shared by all connections of this server.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Listen binds the TCP address and, when configured, the HTTP address.
func (s *Server) Listen(ctx context.Context) error {
	var lc net.ListenConfig

	tcpListener, err := lc.Listen(ctx, "tcp", s.cfg.TCPAddr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", s.cfg.TCPAddr, err)
	}
	s.tcpListener = tcpListener
	s.hub.addr = tcpListener.Addr().String()

	if s.cfg.HTTPAddr == "" {
		return nil
	}

	httpListener, err := lc.Listen(ctx, "tcp", s.cfg.HTTPAddr)
	if err != nil {
		_ = tcpListener.Close()
		return fmt.Errorf("listen http %s: %w", s.cfg.HTTPAddr, err)
	}
	s.httpListener = httpListener
	s.httpServer = CreateServer(s.cfg.HTTPAddr, s.SetupRoutes())
	return nil
}

// TCPAddr returns the bound TCP address, or nil before Listen.
func (s *Server) TCPAddr() net.Addr {
	if s.tcpListener == nil {
		return nil
	}
	return s.tcpListener.Addr()
}

// HTTPAddr returns the bound HTTP address, or nil when HTTP is disabled.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// Run binds the listeners and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled or a listener fails. On
// shutdown it stops accepting, force-closes every live connection and waits up
// to ShutdownTimeout for the connection goroutines to finish.
func (s *Server) Serve(ctx context.Context) error {
	if s.tcpListener == nil {
		return errors.New("server: Serve called before Listen")
	}

	g, gctx := errgroup.WithContext(ctx)
	s.baseCtx = gctx

	s.logger.Info("server.start", "tcp_addr", s.TCPAddr().String(), "http_enabled", s.httpServer != nil)

	g.Go(func() error {
		return s.acceptLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.tcpListener.Close()
	})

	if s.httpServer != nil {
		s.logger.Info("server.http.start", "http_addr", s.HTTPAddr().String())
		g.Go(func() error {
			return StartServer(s.httpServer, s.httpListener)
		})
		g.Go(func() error {
			<-gctx.Done()
			return ShutdownServer(s.httpServer, s.cfg.ShutdownTimeout, s.logger)
		})
	}

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	if drainErr := s.drain(); drainErr != nil && err == nil {
		err = drainErr
	}
	s.logger.Info("server.stopped")
	return err
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.tcpListener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("server.accept.fail", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		s.logger.Debug("server.accept", "remote", conn.RemoteAddr().String())
		s.serve(ctx, NewLineConn(conn, s.cfg.MaxFrameBytes, s.cfg.WriteTimeout))
	}
}

// trackConn registers one connection-serving goroutine. It returns false once
// the server has started draining.
func (s *Server) trackConn() bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	if s.draining {
		return false
	}
	s.conns.Add(1)
	return true
}

// serve runs the hub lifecycle for conn in its own goroutine.
func (s *Server) serve(ctx context.Context, conn Conn) {
	if !s.trackConn() {
		_ = conn.Close()
		return
	}
	go func() {
		defer s.conns.Done()
		s.hub.ServeConn(ctx, conn)
	}()
}

// drain waits for connection goroutines after the listeners are closed.
func (s *Server) drain() error {
	s.connsMu.Lock()
	s.draining = true
	s.connsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("server.drain.done")
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		s.logger.Warn("server.drain.timeout", "clients", s.hub.ClientCount())
		return context.DeadlineExceeded
	}
}
