// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized is returned when authentication fails. Providers
// should wrap it so callers can test with errors.Is.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity returned after successful authentication.
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated user.
	// Never empty on a successful Validate.
	UserID string

	// Email may be empty if the provider does not supply one.
	Email string

	// Roles holds role memberships for authorization decisions.
	// Common roles: "admin", "user", "viewer".
	Roles []string
}

// HasRole reports whether the user holds the given role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates authentication tokens and returns identity.
//
// The token format is implementation-specific: a shared API token, a
// JWT, or empty for the no-op provider. Validate must be safe for
// concurrent use.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider authenticates every request as the local user with
// admin privileges. This is the default for single-user localhost
// deployments, where the OS login is the security boundary.
type NopAuthProvider struct{}

// Validate implements AuthProvider. It never fails.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{"admin"},
	}, nil
}

// TokenAuthProvider accepts a single shared bearer token. Suitable for
// gateways exposed beyond localhost that do not need per-user identity.
type TokenAuthProvider struct {
	token string
}

// NewTokenAuthProvider creates a provider requiring the given token.
func NewTokenAuthProvider(token string) *TokenAuthProvider {
	return &TokenAuthProvider{token: token}
}

// Validate implements AuthProvider with a constant-time comparison.
func (p *TokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if subtle.ConstantTimeCompare([]byte(token), []byte(p.token)) != 1 {
		return nil, ErrUnauthorized
	}
	return &AuthInfo{
		UserID: "token-user",
		Roles:  []string{"admin"},
	}, nil
}

var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*TokenAuthProvider)(nil)
)
