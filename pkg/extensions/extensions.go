// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable interfaces of the gateway.
//
// The open source build ships no-op implementations: every request is
// authenticated as the local user and audit events go to the log.
// Enterprise deployments replace these with identity providers and
// durable audit sinks without touching the gateway itself.
package extensions

// GatewayOptions bundles the pluggable service dependencies.
type GatewayOptions struct {
	// AuthProvider validates request tokens. Never nil after
	// DefaultOptions.
	AuthProvider AuthProvider

	// AuditLogger receives security-relevant events (policy blocks,
	// session deletions). Never nil after DefaultOptions.
	AuditLogger AuditLogger
}

// DefaultOptions returns options suitable for local single-user use.
func DefaultOptions() GatewayOptions {
	return GatewayOptions{
		AuthProvider: &NopAuthProvider{},
		AuditLogger:  &NopAuditLogger{},
	}
}

// WithAuth replaces the auth provider.
func (opts GatewayOptions) WithAuth(provider AuthProvider) GatewayOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit replaces the audit logger.
func (opts GatewayOptions) WithAudit(logger AuditLogger) GatewayOptions {
	opts.AuditLogger = logger
	return opts
}
