// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChatLogger(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	logger := chatLogger()
	require.NotNil(t, logger)

	logger.Info("Chat turn completed", "sessionId", "s1", "answerBytes", 12)
	require.NoError(t, logger.Close())
}
