// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	require := require.New(t)

	base := errors.New("key rejected")
	require.Equal(0, ExitCode(nil))
	require.Equal(1, ExitCode(base))
	require.Nil(WithExitCode(3, nil))

	err := fmt.Errorf("download: %w", WithExitCode(3, base))
	require.Equal(3, ExitCode(err))
	require.ErrorIs(err, base)
	require.Equal("download: key rejected", err.Error())
}

func TestIsUsageError(t *testing.T) {
	require := require.New(t)

	require.True(isUsageError(errors.New("unknown flag: --nope")))
	require.True(isUsageError(errors.New("accepts 1 arg(s), received 0")))
	require.False(isUsageError(errors.New("client: key rejected by proxy")))
}
