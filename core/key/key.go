// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package key derives the symmetric swenc key from a passphrase and
// computes its public fingerprint.
//
// The Argon2id salt is a fixed, public, application-wide constant.  Two
// users with the same passphrase therefore derive the same key, which is
// what the proxy's group authentication expects; it also means the memory
// hardness of Argon2id is the only defence against offline guessing of a
// weak passphrase.  Changing the salt or parameters breaks compatibility
// with every deployed server.
package key

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// Size is the size of a Key in bytes.
	Size = 32

	// FingerprintSize is the length of a hex encoded Fingerprint.
	FingerprintSize = sha256.Size * 2

	argonMemory  = 19 * 1024 // KiB
	argonTime    = 2
	argonThreads = 1
)

// Salt is the fixed Argon2id salt shared by every client and server.
var Salt = []byte("swenc-proxy-salt")

// ErrInvalidKeySize is returned when raw key material is not Size bytes.
var ErrInvalidKeySize = errors.New("key: invalid key size")

// Key is a 256 bit AES-GCM key.
type Key struct {
	b [Size]byte
}

// Derive stretches passphrase into a Key.  It is deterministic and does no
// I/O.
func Derive(passphrase string) *Key {
	k := new(Key)
	copy(k.b[:], argon2.IDKey([]byte(passphrase), Salt, argonTime, argonMemory, argonThreads, Size))
	return k
}

// FromBytes returns a Key holding a copy of b.
func FromBytes(b []byte) (*Key, error) {
	if len(b) != Size {
		return nil, ErrInvalidKeySize
	}
	k := new(Key)
	copy(k.b[:], b)
	return k, nil
}

// Bytes returns the raw key material.  The caller must not retain or log
// it.
func (k *Key) Bytes() []byte {
	return k.b[:]
}

// Fingerprint returns the hex encoded SHA-256 digest of the key.
func (k *Key) Fingerprint() string {
	d := sha256.Sum256(k.b[:])
	return hex.EncodeToString(d[:])
}

// Equal compares two keys in constant time.
func (k *Key) Equal(other *Key) bool {
	if other == nil {
		return false
	}
	return subtle.ConstantTimeCompare(k.b[:], other.b[:]) == 1
}

// Reset overwrites the key material with zeros.
func (k *Key) Reset() {
	for i := range k.b {
		k.b[i] = 0
	}
}

// String identifies the key by its fingerprint so that a key accidentally
// handed to a formatter never prints secret bytes.
func (k *Key) String() string {
	return "key:" + k.Fingerprint()[:16]
}

// GoString implements fmt.GoStringer with the same redaction as String.
func (k *Key) GoString() string {
	return fmt.Sprintf("key.Key{%s}", k.Fingerprint()[:16])
}

// ValidFingerprint reports whether s has the shape of a Fingerprint.
func ValidFingerprint(s string) bool {
	if len(s) != FingerprintSize {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}
