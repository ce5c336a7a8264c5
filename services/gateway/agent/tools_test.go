// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCurrentTimeTool verifies timezone handling.
func TestCurrentTimeTool(t *testing.T) {
	t.Parallel()
	tool := currentTimeTool()

	out, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	out, err = tool.Execute(context.Background(), json.RawMessage(`{"timezone": "UTC"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "UTC")

	_, err = tool.Execute(context.Background(), json.RawMessage(`{"timezone": "Mars/Olympus"}`))
	require.Error(t, err)
}

// TestWeatherTool verifies the simulated report shape.
func TestWeatherTool(t *testing.T) {
	t.Parallel()
	tool := weatherTool()

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"city": "Anchorage"}`))
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "Anchorage", report["city"])
	assert.Equal(t, true, report["simulated"])
	assert.Contains(t, report, "temp_c")

	_, err = tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
}

// TestBuiltinTools verifies lookup by name.
func TestBuiltinTools(t *testing.T) {
	t.Parallel()
	tools := BuiltinTools()
	require.Len(t, tools, 2)

	_, ok := findTool(tools, "get_weather")
	assert.True(t, ok)
	_, ok = findTool(tools, "nope")
	assert.False(t, ok)

	defs := toolDefinitions(tools)
	require.Len(t, defs, 2)
	assert.Equal(t, "get_current_time", defs[0].Name)
}
