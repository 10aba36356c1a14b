// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package boltkeydb implements the swenc server key registry with a
// simple bbolt based backend.
package boltkeydb

import (
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/katzenpost/swenc/core/key"
	"github.com/katzenpost/swenc/server/keydb"
)

const (
	metadataBucket = "metadata"
	keysBucket     = "keys"
	versionKey     = "version"

	dbVersion = 0
)

type record struct {
	Name string
	Key  []byte
}

type boltKeyDB struct {
	sync.RWMutex

	db    *bolt.DB
	cache map[string]*keydb.Entry
}

func (d *boltKeyDB) Lookup(fingerprint string) (*keydb.Entry, bool) {
	// Reject pathologically malformed fingerprints.
	if !key.ValidFingerprint(fingerprint) {
		return nil, false
	}

	d.RLock()
	defer d.RUnlock()

	e, ok := d.cache[fingerprint]
	if !ok {
		return nil, false
	}
	if subtle.ConstantTimeCompare([]byte(e.Fingerprint()), []byte(fingerprint)) != 1 {
		return nil, false
	}
	return e, true
}

func (d *boltKeyDB) Add(e *keydb.Entry, update bool) error {
	if err := keydb.Validate(e); err != nil {
		return err
	}
	fp := e.Fingerprint()
	if _, ok := d.Lookup(fp); ok && !update {
		return keydb.ErrExists
	}

	raw, err := cbor.Marshal(&record{Name: e.Name, Key: e.Key.Bytes()})
	if err != nil {
		return err
	}
	if err := d.db.Update(func(tx *bolt.Tx) error {
		// Grab the `keys` bucket and add or update the entry.
		bkt := tx.Bucket([]byte(keysBucket))
		return bkt.Put([]byte(fp), raw)
	}); err != nil {
		return err
	}

	d.Lock()
	defer d.Unlock()

	d.cache[fp] = e
	return nil
}

func (d *boltKeyDB) Remove(fingerprint string) error {
	if _, ok := d.Lookup(fingerprint); !ok {
		return keydb.ErrNotFound
	}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(keysBucket))
		return bkt.Delete([]byte(fingerprint))
	}); err != nil {
		return err
	}

	d.Lock()
	defer d.Unlock()

	delete(d.cache, fingerprint)
	return nil
}

func (d *boltKeyDB) Len() int {
	d.RLock()
	defer d.RUnlock()

	return len(d.cache)
}

func (d *boltKeyDB) Close() {
	d.Lock()
	defer d.Unlock()

	for fp, e := range d.cache {
		e.Key.Reset()
		delete(d.cache, fp)
	}
	_ = d.db.Sync()
	_ = d.db.Close()
}

// New creates (or loads) a key registry with the given file name f.
func New(f string) (keydb.KeyDB, error) {
	var err error

	d := new(boltKeyDB)
	d.db, err = bolt.Open(f, 0600, nil)
	if err != nil {
		return nil, err
	}
	d.cache = make(map[string]*keydb.Entry)

	if err = d.db.Update(func(tx *bolt.Tx) error {
		// Ensure that all the buckets exists, and grab the metadata bucket.
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		keys, err := tx.CreateBucketIfNotExists([]byte(keysBucket))
		if err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			// Well it looks like we loaded as opposed to created.
			if len(b) != 1 || b[0] != dbVersion {
				return fmt.Errorf("keydb: incompatible version: %d", uint(b[0]))
			}

			// Populate the cache.
			return keys.ForEach(func(fp, v []byte) error {
				var r record
				if err := cbor.Unmarshal(v, &r); err != nil {
					return fmt.Errorf("keydb: corrupt entry %s: %v", fp, err)
				}
				k, err := key.FromBytes(r.Key)
				if err != nil {
					return fmt.Errorf("keydb: corrupt entry %s: %v", fp, err)
				}
				d.cache[string(fp)] = &keydb.Entry{Name: r.Name, Key: k}
				return nil
			})
		}

		// We created a new database, so populate the new `metadata` bucket.
		return bkt.Put([]byte(versionKey), []byte{dbVersion})
	}); err != nil {
		// The struct isn't getting returned so clean up the database.
		d.db.Close()
		return nil, err
	}

	return d, nil
}
