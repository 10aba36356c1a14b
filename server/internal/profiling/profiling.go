// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package profiling starts continuous profiling when built with the
// pyroscope tag.
package profiling

func noop() error { return nil }
