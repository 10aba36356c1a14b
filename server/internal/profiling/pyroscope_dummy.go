// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !pyroscope
// +build !pyroscope

package profiling

import "gopkg.in/op/go-logging.v1"

// Start does nothing; the binary was built without the pyroscope tag.
func Start(log *logging.Logger) (func() error, error) {
	log.Debug("Pyroscope is disabled")
	return noop, nil
}
