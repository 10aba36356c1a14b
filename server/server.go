// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package server implements the swenc proxy server.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go/http3"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/swenc/common"
	"github.com/katzenpost/swenc/core/key"
	"github.com/katzenpost/swenc/core/log"
	"github.com/katzenpost/swenc/core/worker"
	"github.com/katzenpost/swenc/server/config"
	"github.com/katzenpost/swenc/server/internal/instrument"
	"github.com/katzenpost/swenc/server/internal/profiling"
	"github.com/katzenpost/swenc/server/internal/replay"
	"github.com/katzenpost/swenc/server/keydb"
	"github.com/katzenpost/swenc/server/keydb/boltkeydb"
	"github.com/katzenpost/swenc/server/keydb/memkeydb"
)

const (
	shutdownTimeout    = 10 * time.Second
	readHeaderTimeout  = 30 * time.Second
	replayFalsePosRate = 0.001
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("server: already started")

// Server is a swenc proxy server instance.
type Server struct {
	worker.Worker

	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	db       keydb.KeyDB
	replay   *replay.Filter
	upstream *http.Client
	handler  http.Handler

	addr          net.Addr
	httpServer    *http.Server
	h3Server      *http3.Server
	metricsServer *http.Server
	stopProfiling func() error

	startOnce sync.Once
	haltOnce  sync.Once
	haltedCh  chan struct{}
}

func (s *Server) initLogging(b *log.Backend) error {
	if b == nil {
		var err error
		b, err = log.New(s.cfg.Logging.File, s.cfg.Logging.Level, s.cfg.Logging.Disable)
		if err != nil {
			return err
		}
	}
	s.logBackend = b
	s.log = b.GetLogger("server")
	return nil
}

func (s *Server) initKeyDB() error {
	kCfg := s.cfg.KeyDB
	if s.db == nil {
		switch kCfg.Backend {
		case config.BackendBolt:
			db, err := boltkeydb.New(kCfg.Path)
			if err != nil {
				return fmt.Errorf("server: failed to open key registry: %w", err)
			}
			s.db = db
		default:
			s.db = memkeydb.New()
		}
	}

	for _, u := range kCfg.Users {
		e := &keydb.Entry{Name: u.Name, Key: key.Derive(u.Passphrase)}
		if err := s.db.Add(e, true); err != nil {
			return fmt.Errorf("server: failed to register '%v': %w", u.Name, err)
		}
		s.log.Noticef("Registered key '%v': %v", e.Name, e.Fingerprint())
	}
	if s.db.Len() == 0 {
		s.log.Warning("The key registry is empty, every request will be refused.")
	}
	instrument.RegisteredKeys(s.db.Len())
	return nil
}

// LogBackend returns the server log backend.
func (s *Server) LogBackend() *log.Backend {
	return s.logBackend
}

// KeyDB returns the server key registry.
func (s *Server) KeyDB() keydb.KeyDB {
	return s.db
}

// Handler returns the HTTP handler serving the proxy endpoints.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// RotateLog reopens the log file.
func (s *Server) RotateLog() {
	if err := s.logBackend.Rotate(); err != nil {
		s.log.Errorf("Failed to rotate log file: %v", err)
		return
	}
	s.log.Notice("Log rotated.")
}

// Start binds the configured listeners and starts serving.
func (s *Server) Start() error {
	err := ErrAlreadyStarted
	s.startOnce.Do(func() {
		err = s.start()
	})
	return err
}

func (s *Server) start() error {
	sCfg := s.cfg.Server

	var tlsConf *tls.Config
	if sCfg.TLSCertFile != "" {
		var err error
		if tlsConf, err = common.LoadTLSConfig(sCfg.TLSCertFile, sCfg.TLSKeyFile); err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	l, err := net.Listen("tcp", sCfg.Address)
	if err != nil {
		return fmt.Errorf("server: failed to listen on '%v': %w", sCfg.Address, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          s.logBackend.GetGoLogger("server_http", "WARNING"),
	}
	if tlsConf != nil {
		s.httpServer.TLSConfig = tlsConf.Clone()
		l = tls.NewListener(l, s.httpServer.TLSConfig)
	}
	s.addr = l.Addr()
	s.Go(func() {
		s.serve("tcp", l.Addr(), func() error { return s.httpServer.Serve(l) })
	})

	if sCfg.HTTP3Address != "" {
		h3TLS := tlsConf
		if h3TLS == nil {
			s.log.Warning("No TLS certificate configured, HTTP/3 uses an ephemeral self-signed certificate.")
			if h3TLS, err = common.GenerateTLSConfig(); err != nil {
				l.Close()
				return fmt.Errorf("server: %w", err)
			}
		}
		conn, err := net.ListenPacket("udp", sCfg.HTTP3Address)
		if err != nil {
			l.Close()
			return fmt.Errorf("server: failed to listen on '%v': %w", sCfg.HTTP3Address, err)
		}
		s.h3Server = &http3.Server{
			TLSConfig: http3.ConfigureTLSConfig(h3TLS.Clone()),
			Handler:   s.handler,
		}
		s.Go(func() {
			s.serve("quic", conn.LocalAddr(), func() error { return s.h3Server.Serve(conn) })
		})
	}

	if addr := s.cfg.Debug.MetricsAddress; addr != "" {
		s.metricsServer = instrument.StartPrometheusListener(addr)
		s.log.Noticef("Metrics on: %v", addr)
	}
	return nil
}

func (s *Server) serve(network string, addr net.Addr, fn func() error) {
	s.log.Noticef("Listening on: %v/%v", network, addr)
	err := fn()
	switch {
	case err == nil, errors.Is(err, http.ErrServerClosed), errors.Is(err, net.ErrClosed):
		s.log.Noticef("Stopped listening on: %v/%v", network, addr)
	default:
		s.log.Errorf("Listener %v/%v failed: %v", network, addr, err)
	}
}

// Addr returns the bound TCP address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Wait waits till the server is terminated for any reason.
func (s *Server) Wait() {
	<-s.haltedCh
}

// Shutdown cleanly shuts down a given Server instance.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() { s.halt() })
}

func (s *Server) halt() {
	s.log.Notice("Starting graceful shutdown.")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warningf("HTTP shutdown: %v", err)
			s.httpServer.Close()
		}
	}
	if s.h3Server != nil {
		if err := s.h3Server.Shutdown(ctx); err != nil {
			s.log.Warningf("HTTP/3 shutdown: %v", err)
			s.h3Server.Close()
		}
	}
	if s.metricsServer != nil {
		s.metricsServer.Close()
	}

	// Wait for the listener workers to return.
	s.Halt()

	if s.stopProfiling != nil {
		if err := s.stopProfiling(); err != nil {
			s.log.Warningf("Profiling stop: %v", err)
		}
	}
	if s.db != nil {
		s.db.Close()
	}

	s.log.Notice("Shutdown complete.")
	close(s.haltedCh)
}

// New returns a new Server instance parameterized with the specified
// configuration.  A nil db opens the registry the configuration names,
// and a nil logBackend opens the configured log.
func New(cfg *config.Config, db keydb.KeyDB, logBackend *log.Backend) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: no configuration")
	}
	s := &Server{
		cfg:      cfg,
		db:       db,
		haltedCh: make(chan struct{}),
	}
	if err := s.initLogging(logBackend); err != nil {
		return nil, err
	}
	if s.cfg.Logging.Level == "DEBUG" {
		s.log.Warning("Unsafe Debug logging is enabled.")
	}

	// Only a registry opened here is closed on failure.
	closeDB := func() {
		if db == nil && s.db != nil {
			s.db.Close()
		}
	}

	var err error
	if err = s.initKeyDB(); err != nil {
		closeDB()
		return nil, err
	}
	if s.replay, err = replay.New(cfg.Debug.ReplayFilterSize, replayFalsePosRate); err != nil {
		closeDB()
		return nil, fmt.Errorf("server: failed to create replay filter: %w", err)
	}
	if s.stopProfiling, err = profiling.Start(s.logBackend.GetLogger("profiling")); err != nil {
		s.log.Warningf("Failed to start profiling: %v", err)
	}

	s.upstream = newUpstreamClient()
	s.handler = s.newHandler()
	return s, nil
}
