// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package memkeydb implements an in-memory key registry, populated from
// the server configuration.
package memkeydb

import (
	"sync"

	"github.com/katzenpost/swenc/server/keydb"
)

type memKeyDB struct {
	sync.RWMutex

	entries map[string]*keydb.Entry
}

func (d *memKeyDB) Lookup(fingerprint string) (*keydb.Entry, bool) {
	d.RLock()
	defer d.RUnlock()

	e, ok := d.entries[fingerprint]
	return e, ok
}

func (d *memKeyDB) Add(e *keydb.Entry, update bool) error {
	if err := keydb.Validate(e); err != nil {
		return err
	}
	fp := e.Fingerprint()

	d.Lock()
	defer d.Unlock()

	if _, ok := d.entries[fp]; ok && !update {
		return keydb.ErrExists
	}
	d.entries[fp] = e
	return nil
}

func (d *memKeyDB) Remove(fingerprint string) error {
	d.Lock()
	defer d.Unlock()

	e, ok := d.entries[fingerprint]
	if !ok {
		return keydb.ErrNotFound
	}
	e.Key.Reset()
	delete(d.entries, fingerprint)
	return nil
}

func (d *memKeyDB) Len() int {
	d.RLock()
	defer d.RUnlock()

	return len(d.entries)
}

func (d *memKeyDB) Close() {
	d.Lock()
	defer d.Unlock()

	for fp, e := range d.entries {
		e.Key.Reset()
		delete(d.entries, fp)
	}
}

// New creates an empty in-memory key registry.
func New() keydb.KeyDB {
	return &memKeyDB{entries: make(map[string]*keydb.Entry)}
}
