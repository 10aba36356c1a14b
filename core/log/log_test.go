// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package log

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"
)

func TestWriterBackend(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	b, err := NewWriterBackend(&buf, "notice")
	require.NoError(err)

	l := b.GetLogger("test")
	l.Debug("hidden")
	l.Noticef("shown %d", 1)
	require.NotContains(buf.String(), "hidden")
	require.Contains(buf.String(), "NOTI test: shown 1")

	b.GetGoLogger("test_http", "WARNING").Print("from net/http")
	require.Contains(buf.String(), "WARN test_http: from net/http")

	require.NoError(b.Rotate())
	l.Notice("after rotate")
	require.Contains(buf.String(), "after rotate")
}

func TestFileBackendRotate(t *testing.T) {
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "swenc.log")
	b, err := New(f, "DEBUG", false)
	require.NoError(err)

	l := b.GetLogger("test")
	l.Info("first")
	require.NoError(os.Rename(f, f+".1"))
	require.NoError(b.Rotate())
	l.Info("second")

	old, err := os.ReadFile(f + ".1")
	require.NoError(err)
	require.Contains(string(old), "first")
	cur, err := os.ReadFile(f)
	require.NoError(err)
	require.Contains(string(cur), "second")
	require.NotContains(string(cur), "first")
}

func TestParseLevel(t *testing.T) {
	require := require.New(t)

	lvl, err := ParseLevel("warning")
	require.NoError(err)
	require.Equal(logging.WARNING, lvl)

	_, err = ParseLevel("LOUD")
	require.Error(err)
	_, err = New("", "LOUD", false)
	require.Error(err)
	require.NotNil(Discard().GetLogger("x"))
}
