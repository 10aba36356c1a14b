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
)

const passphraseEnv = "SWENC_KEY"

var errNoPassphrase = errors.New("no passphrase: use --key, " + passphraseEnv + " or a terminal")

// resolveKey derives the session key from the flag, the environment or a
// no-echo terminal prompt, in that order.
func resolveKey(cmd *cobra.Command, flag string) (*key.Key, error) {
	passphrase, err := readPassphrase(cmd, flag)
	if err != nil {
		return nil, err
	}
	return key.Derive(passphrase), nil
}

func readPassphrase(cmd *cobra.Command, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if v := os.Getenv(passphraseEnv); v != "" {
		return v, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoPassphrase
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Passphrase: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if len(b) == 0 {
		return "", errNoPassphrase
	}
	return string(b), nil
}
