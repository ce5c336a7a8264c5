// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
)

// Providers the registry knows how to construct clients for.
const (
	ProviderOpenAI      = "openai"
	ProviderAzureOpenAI = "azureopenai"
	ProviderOllama      = "ollama"
)

// registryEntry holds a configured profile and, when construction
// succeeded, a live client for it.
type registryEntry struct {
	profile Profile
	client  Client
	err     error
}

// Registry resolves chat requests to configured LLM clients. Profiles keep
// the order they were configured in; profiles whose client could not be
// built (typically a missing API key) stay listed but unavailable.
//
// Rebuild swaps the whole profile set atomically, which is how settings
// hot reload reaches running handlers.
type Registry struct {
	mu      sync.RWMutex
	entries []*registryEntry
	byName  map[string]*registryEntry
}

// NewRegistry builds a registry from configured profiles. A profile whose
// client cannot be constructed is kept as unavailable rather than failing
// the whole registry.
func NewRegistry(profiles []Profile) *Registry {
	r := &Registry{}
	r.Rebuild(profiles)
	return r
}

// Rebuild replaces every profile in the registry. Existing clients are
// dropped; in-flight streams keep the client they already resolved.
func (r *Registry) Rebuild(profiles []Profile) {
	entries := make([]*registryEntry, 0, len(profiles))
	byName := make(map[string]*registryEntry, len(profiles))
	for _, p := range profiles {
		e := &registryEntry{profile: p}
		e.client, e.err = buildClient(p)
		if e.err != nil {
			slog.Warn("LLM profile unavailable", "profile", p.Name, "provider", p.Provider, "error", e.err)
		}
		entries = append(entries, e)
		if _, dup := byName[p.Name]; dup {
			slog.Warn("Duplicate LLM profile name, keeping first", "profile", p.Name)
			continue
		}
		byName[p.Name] = e
	}

	r.mu.Lock()
	r.entries = entries
	r.byName = byName
	r.mu.Unlock()
	slog.Info("LLM registry rebuilt", "profiles", len(entries))
}

func buildClient(p Profile) (Client, error) {
	switch strings.ToLower(p.Provider) {
	case ProviderOpenAI:
		return NewOpenAIClient(p)
	case ProviderAzureOpenAI:
		return NewAzureOpenAIClient(p)
	case ProviderOllama:
		return NewOllamaClient(p)
	default:
		return nil, fmt.Errorf("unknown provider %q", p.Provider)
	}
}

// Resolve maps a requested model (and optional provider) to a client.
//
// Resolution order:
//  1. exact profile name match
//  2. provider + model match, when a provider was given
//  3. model match across all providers
//  4. the default profile
//
// An unavailable profile that matches wins the lookup and surfaces its
// construction error, so the caller can tell the user what is missing.
func (r *Registry) Resolve(model, provider string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return nil, fmt.Errorf("no LLM profiles are configured")
	}

	if e, ok := r.byName[model]; ok {
		return e.resolve()
	}
	if provider != "" {
		for _, e := range r.entries {
			if strings.EqualFold(e.profile.Provider, provider) && e.profile.Model == model {
				return e.resolve()
			}
		}
	}
	for _, e := range r.entries {
		if e.profile.Model == model {
			return e.resolve()
		}
	}
	for _, e := range r.entries {
		if e.profile.Default {
			slog.Debug("Falling back to default profile", "requested", model, "profile", e.profile.Name)
			return e.resolve()
		}
	}

	msg := fmt.Sprintf("model %q not found", model)
	if provider != "" {
		msg = fmt.Sprintf("model %q not found for provider %q", model, provider)
	}
	return nil, fmt.Errorf("%s. Check your LLM configuration in settings.yaml and ensure all required environment variables are set", msg)
}

func (e *registryEntry) resolve() (Client, error) {
	if e.err != nil {
		return nil, fmt.Errorf("profile %q is not available: %w", e.profile.Name, e.err)
	}
	return e.client, nil
}

// Default returns the default profile's client, or the first available
// profile when none is marked default.
func (r *Registry) Default() (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.profile.Default && e.err == nil {
			return e.client, nil
		}
	}
	for _, e := range r.entries {
		if e.err == nil {
			return e.client, nil
		}
	}
	return nil, fmt.Errorf("no LLM profile is available")
}

// ListModels reports every configured profile grouped by provider, in
// configuration order. Unavailable profiles are included with
// Available=false so the caller can show why a model is greyed out.
func (r *Registry) ListModels() datatypes.ModelsListResponse {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resp := datatypes.ModelsListResponse{
		Models: make(map[string][]datatypes.ModelInfo),
	}
	for _, e := range r.entries {
		provider := strings.ToLower(e.profile.Provider)
		if _, seen := resp.Models[provider]; !seen {
			resp.Providers = append(resp.Providers, provider)
		}
		resp.Models[provider] = append(resp.Models[provider], datatypes.ModelInfo{
			Name:      e.profile.Name,
			Provider:  provider,
			Model:     e.profile.Model,
			BaseURL:   e.profile.BaseURL,
			Default:   e.profile.Default,
			Available: e.err == nil,
		})
	}
	return resp
}

// DefaultProfile reports the default profile for the info endpoint.
func (r *Registry) DefaultProfile() (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.profile.Default {
			return e.profile, true
		}
	}
	if len(r.entries) > 0 {
		return r.entries[0].profile, true
	}
	return Profile{}, false
}
