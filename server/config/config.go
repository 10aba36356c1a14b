// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config provides the swenc server configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/katzenpost/swenc/server/keydb"
)

const (
	defaultAddress          = ":8080"
	defaultLogLevel         = "NOTICE"
	defaultChunkSize        = 64 * 1024
	defaultMaxRequestSize   = 8 * 1024 * 1024
	defaultUpstreamTimeout  = 60 // 60 sec.
	defaultReplayFilterSize = 26 // 8 MiB.
	defaultKeyDB            = "keys.db"

	maxChunkSize = 1024 * 1024

	// BackendMemory is an in-memory key registry built from the
	// configured passphrases.
	BackendMemory = "memory"

	// BackendBolt is a BoltDB based key registry.
	BackendBolt = "bolt"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Server is the swenc server configuration.
type Server struct {
	// Address is the TCP listener address.
	Address string

	// HTTP3Address is the optional UDP address of the HTTP/3 listener.
	HTTP3Address string

	// TLSCertFile and TLSKeyFile are the PEM certificate and key.  If
	// both are empty the TCP listener serves plain HTTP and the HTTP/3
	// listener uses an ephemeral self-signed certificate.
	TLSCertFile string
	TLSKeyFile  string

	// ChunkSize is the largest upstream read sealed into one frame.
	ChunkSize int

	// MaxRequestSize is the largest accepted sealed request.
	MaxRequestSize int64

	// UpstreamTimeout is the timeout for the upstream exchange in
	// seconds, including the body.
	UpstreamTimeout int
}

func (sCfg *Server) applyDefaults() {
	if sCfg.Address == "" {
		sCfg.Address = defaultAddress
	}
	if sCfg.ChunkSize == 0 {
		sCfg.ChunkSize = defaultChunkSize
	}
	if sCfg.MaxRequestSize == 0 {
		sCfg.MaxRequestSize = defaultMaxRequestSize
	}
	if sCfg.UpstreamTimeout == 0 {
		sCfg.UpstreamTimeout = defaultUpstreamTimeout
	}
}

func (sCfg *Server) validate() error {
	if _, _, err := net.SplitHostPort(sCfg.Address); err != nil {
		return fmt.Errorf("config: Server: Address '%v' is invalid: %v", sCfg.Address, err)
	}
	if sCfg.HTTP3Address != "" {
		if _, _, err := net.SplitHostPort(sCfg.HTTP3Address); err != nil {
			return fmt.Errorf("config: Server: HTTP3Address '%v' is invalid: %v", sCfg.HTTP3Address, err)
		}
	}
	if (sCfg.TLSCertFile == "") != (sCfg.TLSKeyFile == "") {
		return errors.New("config: Server: TLSCertFile and TLSKeyFile must be set together")
	}
	if sCfg.ChunkSize < 0 || sCfg.ChunkSize > maxChunkSize {
		return fmt.Errorf("config: Server: ChunkSize %v is out of range", sCfg.ChunkSize)
	}
	if sCfg.MaxRequestSize < 0 {
		return fmt.Errorf("config: Server: MaxRequestSize %v is invalid", sCfg.MaxRequestSize)
	}
	return nil
}

// User is a statically configured key.
type User struct {
	// Name labels the key in logs.
	Name string

	// Passphrase is the shared passphrase the key is derived from.
	Passphrase string
}

// KeyDB is the key registry configuration.
type KeyDB struct {
	// Backend is the registry backend, "memory" or "bolt".
	Backend string

	// Path is the bolt database file, relative to the working directory
	// unless absolute.
	Path string

	// Users are registered at startup with either backend.
	Users []*User
}

func (kCfg *KeyDB) applyDefaults() {
	if kCfg.Backend == "" {
		kCfg.Backend = BackendMemory
	}
	if kCfg.Backend == BackendBolt && kCfg.Path == "" {
		kCfg.Path = defaultKeyDB
	}
}

func (kCfg *KeyDB) validate() error {
	switch kCfg.Backend {
	case BackendMemory:
		if len(kCfg.Users) == 0 {
			return errors.New("config: KeyDB: memory backend without Users")
		}
	case BackendBolt:
		if !filepath.IsAbs(kCfg.Path) {
			p, err := filepath.Abs(kCfg.Path)
			if err != nil {
				return fmt.Errorf("config: KeyDB: Path '%v': %v", kCfg.Path, err)
			}
			kCfg.Path = p
		}
	default:
		return fmt.Errorf("config: KeyDB: Backend '%v' is invalid", kCfg.Backend)
	}

	seen := make(map[string]bool)
	for _, u := range kCfg.Users {
		name, err := keydb.NormalizeName(u.Name)
		if err != nil {
			return fmt.Errorf("config: KeyDB: %v", err)
		}
		if seen[name] {
			return fmt.Errorf("config: KeyDB: duplicate user '%v'", name)
		}
		seen[name] = true
		u.Name = name
		if u.Passphrase == "" {
			return fmt.Errorf("config: KeyDB: user '%v' has no Passphrase", name)
		}
	}
	return nil
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

// Debug is the debug configuration.
type Debug struct {
	// MetricsAddress is the address/port to bind the prometheus metrics
	// endpoint to.  Empty disables it.
	MetricsAddress string

	// ReplayFilterSize is the log2 of the replay filter size in bits.
	ReplayFilterSize int
}

func (dCfg *Debug) applyDefaults() {
	if dCfg.ReplayFilterSize <= 0 {
		dCfg.ReplayFilterSize = defaultReplayFilterSize
	}
}

// Config is the top level swenc server configuration.
type Config struct {
	Server  *Server
	KeyDB   *KeyDB
	Logging *Logging
	Debug   *Debug
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load
// variants instead.
func (cfg *Config) FixupAndValidate() error {
	// The Server and KeyDB sections are mandatory, everything else is
	// optional.
	if cfg.Server == nil {
		return errors.New("config: No Server block was present")
	}
	if cfg.KeyDB == nil {
		return errors.New("config: No KeyDB block was present")
	}
	if cfg.Logging == nil {
		logging := defaultLogging
		cfg.Logging = &logging
	}
	if cfg.Debug == nil {
		cfg.Debug = &Debug{}
	}

	cfg.Server.applyDefaults()
	cfg.KeyDB.applyDefaults()
	cfg.Debug.applyDefaults()

	if err := cfg.Server.validate(); err != nil {
		return err
	}
	if err := cfg.KeyDB.validate(); err != nil {
		return err
	}
	return cfg.Logging.validate()
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
