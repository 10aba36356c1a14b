// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package replay detects replayed request frames.
package replay

import (
	"sync"

	"github.com/katzenpost/hpqc/rand"
	"github.com/yawning/bloom"
)

// Filter remembers request nonces.  False positives refuse a fresh
// request at the configured rate; false negatives cannot happen until the
// filter is saturated and rotated.
type Filter struct {
	sync.Mutex

	f    *bloom.Filter
	size int
	p    float64

	rotations int
}

// New creates a Filter of 2^mLn2 bits with false positive rate p.
func New(mLn2 int, p float64) (*Filter, error) {
	f, err := bloom.New(rand.Reader, mLn2, p)
	if err != nil {
		return nil, err
	}
	return &Filter{f: f, size: mLn2, p: p}, nil
}

// IsReplay marks tag as seen and returns true iff it had been seen
// before (Test and Set).
func (r *Filter) IsReplay(tag []byte) bool {
	// Treat empty tags as replays.
	if len(tag) == 0 {
		return true
	}

	r.Lock()
	defer r.Unlock()

	// A saturated filter is replaced, forgetting every earlier tag.
	if r.f.Entries() >= r.f.MaxEntries() {
		f, err := bloom.New(rand.Reader, r.size, r.p)
		if err != nil {
			// Only the entropy source can fail here.
			panic("replay: failed to rotate filter: " + err.Error())
		}
		r.f = f
		r.rotations++
	}
	return r.f.TestAndSet(tag)
}

// Rotations returns how many times the filter was replaced.
func (r *Filter) Rotations() int {
	r.Lock()
	defer r.Unlock()

	return r.rotations
}
