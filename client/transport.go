// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/katzenpost/swenc/client/config"
)

const quicIdleTimeout = 30 * time.Second

// newHTTPClient builds the transport used for proxy exchanges.  Transport
// level redirects and transparent decompression are always off: the body
// is ciphertext and the proxy reports redirects in X-Location.
func newHTTPClient(cfg *config.Transport) (*http.Client, func() error, error) {
	tlsConf := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.CACertFile != "" {
		pool, err := loadRoots(cfg.CACertFile)
		if err != nil {
			return nil, nil, err
		}
		tlsConf.RootCAs = pool
	}

	var (
		rt      http.RoundTripper
		closeFn func() error
	)
	if cfg.HTTP3 {
		tlsConf.NextProtos = []string{http3.NextProtoH3}
		t := &http3.Transport{
			TLSClientConfig:    tlsConf,
			QUICConfig:         &quic.Config{MaxIdleTimeout: quicIdleTimeout},
			DisableCompression: true,
		}
		rt, closeFn = t, t.Close
	} else {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = tlsConf
		t.DisableCompression = true
		rt = t
	}

	hc := &http.Client{
		Transport:     rt,
		CheckRedirect: noRedirect,
	}
	if cfg.Timeout > 0 {
		hc.Timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return hc, closeFn, nil
}

func loadRoots(f string) (*x509.CertPool, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, fmt.Errorf("client: failed to read CA file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(b) {
		return nil, fmt.Errorf("client: no certificates in '%s'", f)
	}
	return pool, nil
}
