// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/katzenpost/swenc/client"
	"github.com/katzenpost/swenc/client/config"
	"github.com/katzenpost/swenc/common"
	"github.com/katzenpost/swenc/core/frame"
	"github.com/katzenpost/swenc/core/log"
)

// Process exit statuses.
const (
	exitServerIdentity = 2
	exitKeyRejected    = 3
	exitRedirectLimit  = 4
	exitDecode         = 5
	exitHTTPStatus     = 6
	exitProxy          = 7
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	ConfigFile string
	ServerURL  string
	Passphrase string
	Codec      string
	HTTP3      bool
	LogLevel   string
}

func newRootCommand() *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:   "swenc",
		Short: "Encrypted HTTP proxy client",
		Long: `swenc fetches web resources through a swenc proxy.  Every request is
encrypted under a key derived from a shared passphrase, so observers of
the connection to the proxy see neither the destination nor the content.

The passphrase is taken from --key, the SWENC_KEY environment variable,
or an interactive prompt, in that order.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&g.ConfigFile, "config", "f", "", "client configuration file (TOML)")
	pf.StringVarP(&g.ServerURL, "server", "s", "", "proxy base URL, overrides the configuration file")
	pf.StringVarP(&g.Passphrase, "key", "k", "", "shared passphrase")
	pf.StringVar(&g.Codec, "codec", "", `request encoding, "msgpack" or "cbor"`)
	pf.BoolVar(&g.HTTP3, "http3", false, "talk to the proxy over HTTP/3")
	pf.StringVar(&g.LogLevel, "log-level", "", "log level (ERROR, WARNING, NOTICE, INFO, DEBUG)")

	cmd.AddCommand(
		newDownloadCommand(&g),
		newFingerprintCommand(&g),
		newInterceptCommand(&g),
	)
	return cmd
}

// loadConfig builds the client configuration from the configuration file
// and the flags overriding it.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if g.ConfigFile != "" {
		var err error
		if cfg, err = config.LoadFile(g.ConfigFile); err != nil {
			return nil, fmt.Errorf("failed to load config file '%v': %v", g.ConfigFile, err)
		}
	} else {
		cfg = &config.Config{Server: &config.Server{}}
	}
	if g.ServerURL != "" {
		cfg.Server.URL = g.ServerURL
	}
	if g.Codec != "" {
		cfg.Server.Codec = g.Codec
	}
	if g.HTTP3 {
		if cfg.Transport == nil {
			cfg.Transport = &config.Transport{}
		}
		cfg.Transport.HTTP3 = true
	}
	if g.LogLevel != "" {
		if cfg.Logging == nil {
			cfg.Logging = &config.Logging{}
		}
		cfg.Logging.Level = g.LogLevel
	}
	if cfg.Server.URL == "" {
		return nil, errors.New("required flag --server or a config file must be given")
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newClient builds a Client from the flags, logging to stderr.
func (g *globalFlags) newClient(cmd *cobra.Command) (*client.Client, *log.Backend, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	k, err := resolveKey(cmd, g.Passphrase)
	if err != nil {
		return nil, nil, err
	}

	var logBackend *log.Backend
	if cfg.Logging.Disable {
		logBackend = log.Discard()
	} else if cfg.Logging.File != "" {
		if logBackend, err = log.New(cfg.Logging.File, cfg.Logging.Level, false); err != nil {
			return nil, nil, err
		}
	} else if logBackend, err = log.NewWriterBackend(cmd.ErrOrStderr(), cfg.Logging.Level); err != nil {
		return nil, nil, err
	}

	c, err := client.New(cfg, k, client.WithLogBackend(logBackend))
	if err != nil {
		return nil, nil, err
	}
	return c, logBackend, nil
}

// exitStatus attaches the process exit status matching err.
func exitStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, client.ErrServerIdentity):
		return common.WithExitCode(exitServerIdentity, err)
	case errors.Is(err, client.ErrKeyRejected):
		return common.WithExitCode(exitKeyRejected, err)
	case errors.Is(err, client.ErrRedirectLimit), errors.Is(err, client.ErrMissingRedirectTarget):
		return common.WithExitCode(exitRedirectLimit, err)
	case errors.Is(err, frame.ErrDecode), errors.Is(err, frame.ErrAuthentication):
		return common.WithExitCode(exitDecode, err)
	case errors.Is(err, errHTTPStatus):
		return common.WithExitCode(exitHTTPStatus, err)
	case errors.Is(err, client.ErrProxy), errors.Is(err, client.ErrRequestTooLarge):
		return common.WithExitCode(exitProxy, err)
	}
	return err
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}
