// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/katzenpost/swenc/core/key"
	"github.com/katzenpost/swenc/server/config"
	"github.com/katzenpost/swenc/server/keydb"
	"github.com/katzenpost/swenc/server/keydb/boltkeydb"
)

const passphraseEnv = "SWENC_KEY"

func newKeysCommand(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the persistent key registry",
		Long: `Add and remove keys in the bolt key registry named by the
configuration file.  The server must be restarted to pick up changes.`,
	}

	var update bool
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Register the key derived from a passphrase",
		Long: `Register the key derived from a passphrase.  The passphrase is read
from SWENC_KEY or a no-echo terminal prompt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase, err := readPassphrase(cmd)
			if err != nil {
				return err
			}
			return withRegistry(cfg, func(db keydb.KeyDB) error {
				e := &keydb.Entry{Name: args[0], Key: key.Derive(passphrase)}
				if err := db.Add(e, update); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", e.Fingerprint(), e.Name)
				return nil
			})
		},
	}
	add.Flags().BoolVar(&update, "update", false, "replace an existing registration")

	remove := &cobra.Command{
		Use:   "remove FINGERPRINT",
		Short: "Remove a registered key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !key.ValidFingerprint(args[0]) {
				return fmt.Errorf("invalid argument '%v': not a fingerprint", args[0])
			}
			return withRegistry(cfg, func(db keydb.KeyDB) error {
				return db.Remove(args[0])
			})
		},
	}

	cmd.AddCommand(add, remove)
	return cmd
}

func withRegistry(cfg *Config, fn func(keydb.KeyDB) error) error {
	serverCfg, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config file '%v': %v", cfg.ConfigFile, err)
	}
	if serverCfg.KeyDB.Backend != config.BackendBolt {
		return errors.New("the key registry is not persistent, edit KeyDB.Users instead")
	}
	db, err := boltkeydb.New(serverCfg.KeyDB.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func readPassphrase(cmd *cobra.Command) (string, error) {
	if v := os.Getenv(passphraseEnv); v != "" {
		return v, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no passphrase: set " + passphraseEnv + " or use a terminal")
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Passphrase: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", err
	}
	return string(b), nil
}
