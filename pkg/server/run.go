package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NicolasHaas/parley/pkg/crypto"
	"github.com/NicolasHaas/parley/pkg/model"
	"github.com/NicolasHaas/parley/pkg/protocol"
)

// Listen binds the frame listener. Run calls it when it has not been called.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	if !s.cfg.TLS {
		ln, err := net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("server: listen: %w", err)
		}
		s.listener = ln
		return nil
	}

	cert, err := loadOrGenerateTLS(s.cfg)
	if err != nil {
		return fmt.Errorf("server: tls: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}
	ln, err := tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
	if err != nil {
		return fmt.Errorf("server: listen tls: %w", err)
	}
	s.listener = ln
	return nil
}

// Run starts every listener and blocks until a signal, a shutdown request,
// or ctx cancellation, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.store != nil {
		st := s.store
		defer func() { _ = st.NonTx().Close() }()
	}

	if s.cfg.GroupsFile != "" {
		if err := LoadGroupsFromYAML(s.cfg.GroupsFile, s.router); err != nil {
			slog.Error("failed to load groups file", "err", err)
		}
	}

	if err := s.Listen(); err != nil {
		return err
	}
	if s.cfg.HTTPAddr != "" {
		if err := s.ensureAdminToken(); err != nil {
			return err
		}
		s.httpSrv = s.newHTTPServer()
	}

	slog.Info("Parley server running",
		"listen", s.listener.Addr().String(),
		"tls", s.cfg.TLS,
		"http", s.cfg.HTTPAddr,
	)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(s.acceptLoop)
	if s.httpSrv != nil {
		srv := s.httpSrv
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server: http: %w", err)
			}
			return nil
		})
	}
	if s.cfg.GroupsFile != "" && s.cfg.WatchGroups {
		g.Go(func() error {
			return WatchGroupsFile(s.ctx, s.cfg.GroupsFile, s.router)
		})
	}
	if s.cfg.MetricsLogInterval > 0 {
		g.Go(func() error {
			return s.metrics.RunPeriodicLog(s.ctx, s.cfg.MetricsLogInterval)
		})
	}
	g.Go(func() error {
		select {
		case <-sigCtx.Done():
		case <-s.stopCtx.Done():
		case <-gctx.Done():
		}
		s.Shutdown()
		return nil
	})

	return g.Wait()
}

func (s *Server) acceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept error", "err", err)
			continue
		}
		go s.serveConn(protocol.NewStreamConn(conn))
	}
}

// Shutdown broadcasts the shutdown sentinel, gives sessions the grace period
// to relay it, then stops the listeners and closes what is left. Safe to
// call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		slog.Info("shutting down...", "sessions", s.sessions.Count())
		s.router.Broadcast(model.ShutdownContent)
		s.waitDrained(s.cfg.ShutdownGrace)

		s.cancel()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		if s.httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown", "err", err)
			}
			cancel()
		}
		s.sessions.CloseAll()
		if !s.sessions.Wait(time.Second) {
			slog.Warn("sessions still open after shutdown", "count", s.sessions.Count())
		}
		s.router.Close()
		slog.Info("server stopped")
	})
}

// waitDrained returns once no session is live or grace has elapsed.
func (s *Server) waitDrained(grace time.Duration) {
	deadline := time.Now().Add(grace)
	for s.sessions.Count() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
}

// ensureAdminToken hashes the configured admin token, or generates one and
// logs it once. Only the hash is kept.
func (s *Server) ensureAdminToken() error {
	rawToken := s.cfg.AdminToken
	if rawToken == "" {
		var err error
		rawToken, err = crypto.GenerateToken()
		if err != nil {
			return fmt.Errorf("server: generate admin token: %w", err)
		}
		slog.Info("========================================")
		slog.Info("ADMIN TOKEN (save this!):", "token", rawToken)
		slog.Info("========================================")
	}

	hash, err := crypto.HashToken(rawToken)
	if err != nil {
		return fmt.Errorf("server: hash admin token: %w", err)
	}
	s.adminHash = hash
	return nil
}
