// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command gateway starts the AleutianStudio LLM gateway HTTP server.
//
// This is the main entry point for the containerized gateway service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - GATEWAY_PORT: HTTP server port (default: settings.yaml, then 8000)
//   - STUDIO_SETTINGS_PATH: settings file location (default: settings.yaml)
//   - STUDIO_API_TOKEN: enables static bearer authentication when set
//   - STUDIO_AUDIT_LOG: audit event JSONL file path (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: localhost:4317)
//   - GIN_MODE: gin framework mode - debug, release, test
//
// # Usage
//
//	# Build
//	go build -o gateway ./cmd/gateway
//
//	# Run
//	./gateway
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/AleutianStudio/services/gateway"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := gateway.Config{
		Port:         getEnvInt("GATEWAY_PORT", 0),
		SettingsPath: os.Getenv("STUDIO_SETTINGS_PATH"),
		OTelEndpoint: getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		AuditLogPath: os.Getenv("STUDIO_AUDIT_LOG"),
	}

	slog.Info("Starting gateway",
		"port", cfg.Port,
		"settings_path", cfg.SettingsPath,
	)

	// Create the gateway with default extension options. Enterprise
	// builds pass custom GatewayOptions here.
	svc, err := gateway.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Gateway error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
