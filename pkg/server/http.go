package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"gps-campaign-dashboard/pkg/config"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ProvideHTTPServer = fx.Module("http.server",
	fx.Provide(NewHttpServer),
	fx.Invoke(Run),
)

type Server struct {
	server   *http.Server
	tlsMutex sync.RWMutex
	cert     *tls.Certificate
	certPath string
	keyPath  string
	watcher  *fsnotify.Watcher

	// Cancelled before Shutdown so long-lived event streams return.
	cancelRequests context.CancelFunc
}

type Params struct {
	fx.In
	Config  *config.Config
	Handler http.Handler
}

// listenAddr accepts either a bare port or a host:port pair.
func listenAddr(addr string) string {
	if strings.Contains(addr, ":") {
		return addr
	}
	return ":" + addr
}

func NewHttpServer(p Params) (*Server, error) {
	cfg := p.Config
	base, cancel := context.WithCancel(context.Background())
	srv := &Server{
		server: &http.Server{
			Addr:         listenAddr(cfg.Server.Addr),
			Handler:      p.Handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
			BaseContext:  func(net.Listener) context.Context { return base },
		},
		certPath:       cfg.TLS.CertPath,
		keyPath:        cfg.TLS.KeyPath,
		cancelRequests: cancel,
	}

	if !cfg.TLS.Enable {
		return srv, nil
	}

	if err := srv.reloadCert(); err != nil {
		cancel()
		return nil, fmt.Errorf("load TLS certificate: %w", err)
	}
	srv.server.TLSConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			srv.tlsMutex.RLock()
			defer srv.tlsMutex.RUnlock()
			return srv.cert, nil
		},
	}
	return srv, nil
}

func (s *Server) reloadCert() error {
	cert, err := tls.LoadX509KeyPair(s.certPath, s.keyPath)
	if err != nil {
		return err
	}
	s.tlsMutex.Lock()
	s.cert = &cert
	s.tlsMutex.Unlock()
	return nil
}

// watchTLSFiles swaps in rotated certificates without a restart.
func (s *Server) watchTLSFiles() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.reloadCert(); err != nil {
				zap.L().Error("failed to reload TLS cert", zap.Error(err))
				continue
			}
			zap.L().Info("TLS certificate reloaded")
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			zap.L().Error("watcher error", zap.Error(err))
		}
	}
}

func (s *Server) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, p := range []string{s.certPath, s.keyPath} {
		if err := w.Add(p); err != nil {
			_ = w.Close()
			return err
		}
	}
	s.watcher = w
	go s.watchTLSFiles()
	return nil
}

func Run(lc fx.Lifecycle, srv *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			lis, err := net.Listen("tcp", srv.server.Addr)
			if err != nil {
				return err
			}

			serve := func() error { return srv.server.Serve(lis) }
			if srv.server.TLSConfig != nil {
				if err := srv.startWatcher(); err != nil {
					zap.L().Warn("TLS hot reload disabled", zap.Error(err))
				}
				serve = func() error { return srv.server.ServeTLS(lis, "", "") }
			}

			zap.L().Info("Starting HTTP server",
				zap.String("addr", lis.Addr().String()),
				zap.Bool("tls", srv.server.TLSConfig != nil))
			go func() {
				if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					zap.L().Error("HTTP server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Shutting down HTTP server gracefully...")
			if srv.watcher != nil {
				_ = srv.watcher.Close()
			}
			srv.cancelRequests()
			return srv.server.Shutdown(ctx)
		},
	})
}
