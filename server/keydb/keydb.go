// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package keydb defines the swenc server key registry abstract interface.
package keydb

import (
	"errors"
	"fmt"

	"golang.org/x/text/secure/precis"

	"github.com/katzenpost/swenc/core/key"
)

var (
	// ErrExists is returned by Add when the key is already registered
	// and update was not requested.
	ErrExists = errors.New("keydb: key already registered")

	// ErrNotFound is returned by Remove for an unknown fingerprint.
	ErrNotFound = errors.New("keydb: key not registered")
)

// Entry is a registered key.
type Entry struct {
	// Name is a human readable label used in logs, never sent to clients.
	Name string

	// Key is the shared key.
	Key *key.Key
}

// Fingerprint returns the fingerprint clients present for this entry.
func (e *Entry) Fingerprint() string {
	return e.Key.Fingerprint()
}

// KeyDB is the interface provided by all key registry implementations.
type KeyDB interface {
	// Lookup returns the entry whose key has the given fingerprint.
	Lookup(fingerprint string) (*Entry, bool)

	// Add registers an entry.  Existing entries are replaced if update is
	// set, otherwise ErrExists is returned.
	Add(e *Entry, update bool) error

	// Remove removes the entry with the given fingerprint.
	Remove(fingerprint string) error

	// Len returns the number of registered keys.
	Len() int

	// Close closes the KeyDB instance.
	Close()
}

// NormalizeName returns the canonical form of an entry name.
func NormalizeName(name string) (string, error) {
	if name == "" {
		return "", errors.New("keydb: empty name")
	}
	n, err := precis.UsernameCaseMapped.String(name)
	if err != nil {
		return "", fmt.Errorf("keydb: invalid name '%v': %v", name, err)
	}
	return n, nil
}

// Validate checks and normalizes e in place.
func Validate(e *Entry) error {
	if e == nil || e.Key == nil {
		return errors.New("keydb: must provide a key")
	}
	n, err := NormalizeName(e.Name)
	if err != nil {
		return err
	}
	e.Name = n
	return nil
}
