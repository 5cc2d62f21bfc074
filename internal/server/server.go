package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/genricoloni/tabcast/internal/domain"
	"go.uber.org/zap"
)

// Server runs the local HTTP listener
type Server struct {
	logger *zap.Logger
	addr   string
	http   *http.Server

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// NewServer creates a server for handler on the configured listen address
func NewServer(logger *zap.Logger, cfg domain.Config, handler http.Handler) *Server {
	return &Server{
		logger: logger,
		addr:   cfg.GetListenAddr(),
		http: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start binds the listen address and serves in the background
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		defer close(done)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, empty before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}

	s.logger.Info("HTTP server stopping...")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	<-done
	return nil
}
