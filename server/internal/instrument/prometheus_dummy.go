// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build noprometheus
// +build noprometheus

package instrument

import "net/http"

// StartPrometheusListener does nothing
func StartPrometheusListener(address string) *http.Server { return nil }

// Request does nothing
func Request(endpoint, result string) {}

// FrameSealed does nothing
func FrameSealed(n int) {}

// Replay does nothing
func Replay() {}

// UpstreamFailure does nothing
func UpstreamFailure() {}

// RegisteredKeys does nothing
func RegisteredKeys(n int) {}
