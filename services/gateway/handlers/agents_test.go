// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStudio/services/gateway/config"
	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
)

func newAgentsRouter(agentType string) *gin.Engine {
	gin.SetMode(gin.TestMode)

	settings := func() config.Settings {
		return config.Settings{Agent: config.AgentSettings{Type: agentType}}
	}
	h := NewAgentsHandler(settings)
	router := gin.New()
	router.GET("/v2/agents", h.HandleListAgents)
	router.GET("/v2/agents/:agentType/graph", h.HandleAgentGraph)
	return router
}

func TestHandleListAgents(t *testing.T) {
	tests := []struct {
		name        string
		agentType   string
		wantDefault string
	}{
		{"configured react", "react", "react"},
		{"configured plan", "plan", "plan"},
		{"blank falls back to react", "", "react"},
		{"unknown falls back to react", "quantum", "react"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newAgentsRouter(tc.agentType)

			w := doRequest(router, "GET", "/v2/agents")

			assert.Equal(t, http.StatusOK, w.Code)
			var resp struct {
				Agents []struct {
					Type        string `json:"type"`
					Description string `json:"description"`
					Default     bool   `json:"default"`
				} `json:"agents"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.Len(t, resp.Agents, 3)

			defaults := 0
			for _, a := range resp.Agents {
				assert.NotEmpty(t, a.Description)
				if a.Default {
					defaults++
					assert.Equal(t, tc.wantDefault, a.Type)
				}
			}
			assert.Equal(t, 1, defaults, "exactly one default agent")
		})
	}
}

func TestHandleAgentGraph_ReAct(t *testing.T) {
	router := newAgentsRouter("react")

	w := doRequest(router, "GET", "/v2/agents/react/graph")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.GraphStructureResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	ids := make([]string, 0, len(resp.Nodes))
	for _, n := range resp.Nodes {
		ids = append(ids, n.ID)
	}
	assert.Contains(t, ids, "__start__")
	assert.Contains(t, ids, "agent")
	assert.Contains(t, ids, "tools")
	assert.Contains(t, ids, "__end__")

	conditional := 0
	for _, e := range resp.Edges {
		if e.Conditional {
			conditional++
			assert.NotEmpty(t, e.Label)
		}
	}
	assert.Greater(t, conditional, 0, "react routes conditionally after each model turn")
}

func TestHandleAgentGraph_Basic(t *testing.T) {
	router := newAgentsRouter("react")

	w := doRequest(router, "GET", "/v2/agents/basic/graph")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.GraphStructureResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Nodes, 3, "start, chat, end")
}

func TestHandleAgentGraph_LegacyAlias(t *testing.T) {
	router := newAgentsRouter("react")

	w := doRequest(router, "GET", "/v2/agents/langgraph/graph")

	assert.Equal(t, http.StatusOK, w.Code, "legacy v1 name maps to react")
}

func TestHandleAgentGraph_Unknown(t *testing.T) {
	router := newAgentsRouter("react")

	w := doRequest(router, "GET", "/v2/agents/quantum/graph")

	assert.Equal(t, http.StatusNotFound, w.Code)
}
