// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
)

const (
	envGatewayURL = "STUDIO_GATEWAY_URL"
	envAPIToken   = "STUDIO_API_TOKEN" //nolint:gosec // env var name, not a credential

	defaultGatewayURL = "http://localhost:8000"
)

// GatewayClient talks to the gateway's REST and SSE endpoints.
type GatewayClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewGatewayClient builds a client from the environment. The streaming
// client carries no overall timeout; chat turns are bounded by the
// server, not the CLI.
func NewGatewayClient() *GatewayClient {
	baseURL := os.Getenv(envGatewayURL)
	if baseURL == "" {
		baseURL = defaultGatewayURL
	}
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   os.Getenv(envAPIToken),
		http:    &http.Client{},
	}
}

// sessionsListResponse matches the gateway's GET /v2/sessions payload.
type sessionsListResponse struct {
	Sessions []datatypes.SessionInfo `json:"sessions"`
	Count    int                     `json:"count"`
}

// Chat sends a message and returns the raw SSE body. The caller must
// close it.
func (c *GatewayClient) Chat(ctx context.Context, req datatypes.ChatRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("contacting gateway at %s: %w", c.baseURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.readError(resp)
	}
	return resp.Body, nil
}

// ListModels fetches the configured LLM profiles grouped by provider.
func (c *GatewayClient) ListModels(ctx context.Context) (datatypes.ModelsListResponse, error) {
	var out datatypes.ModelsListResponse
	err := c.getJSON(ctx, "/v2/models", &out)
	return out, err
}

// Info fetches the default profile and agent mode.
func (c *GatewayClient) Info(ctx context.Context) (datatypes.InfoResponse, error) {
	var out datatypes.InfoResponse
	err := c.getJSON(ctx, "/v2/info", &out)
	return out, err
}

// ListSessions fetches stored sessions, most recently updated first.
func (c *GatewayClient) ListSessions(ctx context.Context) ([]datatypes.SessionInfo, error) {
	var out sessionsListResponse
	if err := c.getJSON(ctx, "/v2/sessions", &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// SessionHistory fetches the full message history of one session.
func (c *GatewayClient) SessionHistory(ctx context.Context, sessionID string) (datatypes.SessionHistoryResponse, error) {
	var out datatypes.SessionHistoryResponse
	err := c.getJSON(ctx, "/v2/sessions/"+sessionID+"/history", &out)
	return out, err
}

// DeleteSession removes a session and its history.
func (c *GatewayClient) DeleteSession(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v2/sessions/"+sessionID, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting gateway at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.readError(resp)
	}
	return nil
}

// Health checks the gateway's unauthenticated health endpoint.
func (c *GatewayClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway unhealthy: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *GatewayClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting gateway at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.readError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *GatewayClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// readError extracts the gateway's {"error": ...} payload, falling back
// to the raw body.
func (c *GatewayClient) readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("gateway returned HTTP %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("gateway returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
