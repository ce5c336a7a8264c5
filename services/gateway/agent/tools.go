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
	"fmt"
	"math/rand"
	"time"

	"github.com/AleutianAI/AleutianStudio/services/llm"
)

// Tool pairs a function-calling definition with its executor.
type Tool struct {
	Definition llm.ToolDefinition
	Execute    func(ctx context.Context, arguments json.RawMessage) (string, error)
}

// BuiltinTools returns the tools every agent gets by default.
func BuiltinTools() []*Tool {
	return []*Tool{currentTimeTool(), weatherTool()}
}

func toolDefinitions(tools []*Tool) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, t.Definition)
	}
	return defs
}

func findTool(tools []*Tool, name string) (*Tool, bool) {
	for _, t := range tools {
		if t.Definition.Name == name {
			return t, true
		}
	}
	return nil, false
}

func currentTimeTool() *Tool {
	return &Tool{
		Definition: llm.ToolDefinition{
			Name:        "get_current_time",
			Description: "Get the current date and time, optionally in a specific IANA timezone.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"timezone": {
						"type": "string",
						"description": "IANA timezone name such as America/Anchorage. Defaults to the server timezone."
					}
				}
			}`),
		},
		Execute: func(_ context.Context, arguments json.RawMessage) (string, error) {
			var args struct {
				Timezone string `json:"timezone"`
			}
			if len(arguments) > 0 {
				if err := json.Unmarshal(arguments, &args); err != nil {
					return "", fmt.Errorf("invalid arguments for get_current_time: %w", err)
				}
			}
			now := time.Now()
			if args.Timezone != "" {
				loc, err := time.LoadLocation(args.Timezone)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q", args.Timezone)
				}
				now = now.In(loc)
			}
			return now.Format("Monday, January 2, 2006 at 15:04:05 MST"), nil
		},
	}
}

// weatherTool returns simulated conditions. There is no upstream weather
// dependency; the tool exists to exercise the tool-calling loop.
func weatherTool() *Tool {
	conditions := []string{"sunny", "partly cloudy", "overcast", "light rain", "snow", "foggy"}
	return &Tool{
		Definition: llm.ToolDefinition{
			Name:        "get_weather",
			Description: "Get the current weather for a city. Data is simulated.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"city": {
						"type": "string",
						"description": "City name, for example Anchorage."
					}
				},
				"required": ["city"]
			}`),
		},
		Execute: func(_ context.Context, arguments json.RawMessage) (string, error) {
			var args struct {
				City string `json:"city"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil {
				return "", fmt.Errorf("invalid arguments for get_weather: %w", err)
			}
			if args.City == "" {
				return "", fmt.Errorf("get_weather requires a city")
			}
			report := map[string]any{
				"city":      args.City,
				"condition": conditions[rand.Intn(len(conditions))],
				"temp_c":    rand.Intn(45) - 15,
				"humidity":  rand.Intn(60) + 30,
				"wind_kph":  rand.Intn(40),
				"simulated": true,
			}
			out, err := json.Marshal(report)
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}
