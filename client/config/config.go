// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config implements the configuration for the swenc client.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/net/idna"

	"github.com/katzenpost/swenc/core/codec"
)

const (
	defaultLogLevel       = "NOTICE"
	defaultTimeout        = 60 // 60 sec.
	defaultMaxRequestSize = 8 * 1024 * 1024

	// DefaultMaxRedirects is the redirect budget when none is configured.
	DefaultMaxRedirects = 5

	// DefaultUserAgent is sent when a request carries no User-Agent.
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lCfg.Level = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Server is the proxy server the client talks to.
type Server struct {
	// URL is the base URL of the proxy, eg: https://proxy.example.org.
	URL string

	// MaxRedirects is the number of proxy-reported redirects a single
	// fetch may follow.  Unset means DefaultMaxRedirects, 0 follows none.
	MaxRedirects *int

	// MaxRequestSize is the largest sealed request sent to the proxy.  It
	// should not exceed the proxy's own MaxRequestSize.
	MaxRequestSize int64

	// UserAgent is the User-Agent sent to the true destination when the
	// caller does not supply one.
	UserAgent string

	// Codec is the request encoding, "msgpack" (default) or "cbor".
	Codec string
}

func (sCfg *Server) applyDefaults() {
	if sCfg.MaxRedirects == nil {
		n := DefaultMaxRedirects
		sCfg.MaxRedirects = &n
	}
	if sCfg.MaxRequestSize == 0 {
		sCfg.MaxRequestSize = defaultMaxRequestSize
	}
	if sCfg.UserAgent == "" {
		sCfg.UserAgent = DefaultUserAgent
	}
}

func (sCfg *Server) validate() error {
	if sCfg.URL == "" {
		return errors.New("config: Server: URL is not set")
	}
	u, err := url.Parse(sCfg.URL)
	if err != nil {
		return fmt.Errorf("config: Server: URL '%v' is invalid: %v", sCfg.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: Server: URL '%v' has unsupported scheme", sCfg.URL)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("config: Server: URL '%v' has no host", sCfg.URL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("config: Server: URL '%v' must not carry a query or fragment", sCfg.URL)
	}
	if *sCfg.MaxRedirects < 0 {
		return fmt.Errorf("config: Server: MaxRedirects %v is invalid", *sCfg.MaxRedirects)
	}
	if sCfg.MaxRequestSize < 0 {
		return fmt.Errorf("config: Server: MaxRequestSize %v is invalid", sCfg.MaxRequestSize)
	}
	if _, err := codec.ParseFormat(sCfg.Codec); err != nil {
		return fmt.Errorf("config: Server: %v", err)
	}
	return nil
}

// normalize rewrites the URL host to its ASCII form and drops any
// trailing slash from the path.
func (sCfg *Server) normalize() error {
	u, err := url.Parse(sCfg.URL)
	if err != nil {
		return err
	}
	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if host, err = idna.Lookup.ToASCII(host); err != nil {
			return fmt.Errorf("config: Failed to normalize Server URL host: %v", err)
		}
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}
	u.Path = strings.TrimRight(u.Path, "/")
	sCfg.URL = u.String()
	return nil
}

// Transport is the HTTP transport configuration.
type Transport struct {
	// Timeout is the overall timeout of one proxy exchange in seconds,
	// including reading the response body.  Zero applies the default,
	// negative disables it.
	Timeout int

	// HTTP3 selects HTTP/3 over QUIC instead of HTTP/1.1 or HTTP/2.
	HTTP3 bool

	// CACertFile is an optional PEM file of additional trusted roots.
	CACertFile string
}

func (tCfg *Transport) applyDefaults() {
	if tCfg.Timeout == 0 {
		tCfg.Timeout = defaultTimeout
	}
}

func (tCfg *Transport) validate() error {
	if tCfg.CACertFile != "" {
		if _, err := os.Stat(tCfg.CACertFile); err != nil {
			return fmt.Errorf("config: Transport: CACertFile: %v", err)
		}
	}
	return nil
}

// Config is the top level client configuration.
type Config struct {
	Server    *Server
	Transport *Transport
	Logging   *Logging
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load
// variants instead.
func (cfg *Config) FixupAndValidate() error {
	// The Server section is mandatory, everything else is optional.
	if cfg.Server == nil {
		return errors.New("config: No Server block was present")
	}
	if cfg.Transport == nil {
		cfg.Transport = &Transport{}
	}
	if cfg.Logging == nil {
		logging := defaultLogging
		cfg.Logging = &logging
	}

	cfg.Server.applyDefaults()
	cfg.Transport.applyDefaults()

	if err := cfg.Server.validate(); err != nil {
		return err
	}
	if err := cfg.Transport.validate(); err != nil {
		return err
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	return cfg.Server.normalize()
}

// Load parses and validates the provided buffer b as a config file body
// and returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("No nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

// New returns a validated Config for the proxy at serverURL with every
// other setting at its default.
func New(serverURL string) (*Config, error) {
	cfg := &Config{Server: &Server{URL: serverURL}}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
