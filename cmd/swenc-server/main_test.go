// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/swenc/core/key"
	"github.com/katzenpost/swenc/server/keydb/boltkeydb"
)

func run(args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestKeys(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "keys.db")
	cfgPath := filepath.Join(dir, "server.toml")
	require.NoError(os.WriteFile(cfgPath, []byte(`
[Server]
Address = "127.0.0.1:0"
[KeyDB]
Backend = "bolt"
Path = "`+dbPath+`"
`), 0600))

	_, err := run("-f", cfgPath, "--validate-only")
	require.NoError(err)

	fp := key.Derive("correct horse").Fingerprint()
	t.Setenv(passphraseEnv, "correct horse")
	out, err := run("keys", "add", "-f", cfgPath, "Alice")
	require.NoError(err)
	require.Contains(out, fp+" alice")

	_, err = run("keys", "add", "-f", cfgPath, "alice")
	require.Error(err)
	_, err = run("keys", "add", "-f", cfgPath, "--update", "alice")
	require.NoError(err)

	db, err := boltkeydb.New(dbPath)
	require.NoError(err)
	_, ok := db.Lookup(fp)
	require.True(ok)
	db.Close()

	_, err = run("keys", "remove", "-f", cfgPath, fp)
	require.NoError(err)
	_, err = run("keys", "remove", "-f", cfgPath, fp)
	require.Error(err)
	_, err = run("keys", "remove", "-f", cfgPath, "nope")
	require.Error(err)
}

func TestValidateOnlyBadConfig(t *testing.T) {
	_, err := run("-f", filepath.Join(t.TempDir(), "missing.toml"), "--validate-only")
	require.ErrorContains(t, err, "failed to load config file")
}
