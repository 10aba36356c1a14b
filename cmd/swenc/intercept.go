// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/katzenpost/swenc/client/httpproxy"
)

const readHeaderTimeout = 30 * time.Second

func newInterceptCommand(g *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "intercept",
		Short: "Run a local HTTP proxy that tunnels through swenc",
		Long: `Run a local plain HTTP proxy.  Point a browser at it and every request
is carried through the swenc proxy.  CONNECT is refused, so HTTPS sites
need a TLS intercepting front end that forwards plain requests here.`,
		Example: `  swenc intercept -s https://proxy.example.org --listen 127.0.0.1:8118`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return exitStatus(runIntercept(cmd, g, listen))
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "127.0.0.1:8118", "local listener address")
	return cmd
}

func runIntercept(cmd *cobra.Command, g *globalFlags, listen string) error {
	c, logBackend, err := g.newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Probe(ctx); err != nil {
		return err
	}
	if err := c.Check(ctx); err != nil {
		return err
	}

	l, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	log := logBackend.GetLogger("intercept")
	log.Noticef("Listening on: %v", l.Addr())

	srv := &http.Server{
		Handler:           httpproxy.New(c, logBackend, httpproxy.WithMaxBodySize(c.MaxRequestSize())),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          logBackend.GetGoLogger("intercept_http", "WARNING"),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Notice("Stopped.")
	return nil
}
