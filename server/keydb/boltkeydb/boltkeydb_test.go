// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package boltkeydb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/swenc/core/key"
	"github.com/katzenpost/swenc/server/keydb"
)

var testPassphrases = map[string]string{
	"alice": "correct horse",
	"bob":   "battery staple",
}

func TestBoltKeyDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "keys.db")

	ok := t.Run("create", func(t *testing.T) {
		require := require.New(t)
		assert := assert.New(t)

		d, err := New(dbPath)
		require.NoError(err, "New()")
		defer d.Close()

		for name, pass := range testPassphrases {
			err = d.Add(&keydb.Entry{Name: name, Key: key.Derive(pass)}, false)
			require.NoErrorf(err, "Add(%v)", name)
		}
		assert.Equal(len(testPassphrases), d.Len())

		for name, pass := range testPassphrases {
			e, ok := d.Lookup(key.Derive(pass).Fingerprint())
			assert.True(ok, "Lookup('%s')", name)
			assert.Equal(name, e.Name)
		}
		_, ok := d.Lookup("not a fingerprint")
		assert.False(ok)
	})
	if !ok {
		t.Errorf("test failed, skipping load test")
		return
	}

	t.Run("load", func(t *testing.T) {
		require := require.New(t)
		assert := assert.New(t)

		d, err := New(dbPath)
		require.NoError(err, "New() load")
		defer d.Close()

		assert.Equal(len(testPassphrases), d.Len())
		alice := key.Derive(testPassphrases["alice"])
		e, ok := d.Lookup(alice.Fingerprint())
		require.True(ok)
		assert.True(e.Key.Equal(alice))

		err = d.Add(&keydb.Entry{Name: "alice", Key: alice}, false)
		assert.ErrorIs(err, keydb.ErrExists)

		require.NoError(d.Remove(alice.Fingerprint()))
		_, ok = d.Lookup(alice.Fingerprint())
		assert.False(ok)
		assert.ErrorIs(d.Remove(alice.Fingerprint()), keydb.ErrNotFound)
	})

	t.Run("reload after remove", func(t *testing.T) {
		d, err := New(dbPath)
		require.NoError(t, err)
		defer d.Close()

		require.Equal(t, 1, d.Len())
		_, ok := d.Lookup(key.Derive(testPassphrases["bob"]).Fingerprint())
		require.True(t, ok)
	})
}
