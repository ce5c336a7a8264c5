// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianStudio/services/gateway/agent"
	"github.com/AleutianAI/AleutianStudio/services/gateway/config"
	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
)

// AgentsHandler serves agent metadata for graph visualization.
type AgentsHandler struct {
	settings func() config.Settings
}

// NewAgentsHandler creates an agents handler.
func NewAgentsHandler(settings func() config.Settings) *AgentsHandler {
	return &AgentsHandler{settings: settings}
}

// agentDescriptions maps each agent type to a short human description
// shown in the mode picker.
var agentDescriptions = map[datatypes.AgentType]string{
	datatypes.AgentBasic: "Direct model response with no tools",
	datatypes.AgentReAct: "Reason-and-act loop with tool calling",
	datatypes.AgentPlan:  "Plans multi-step tasks, then executes each step",
}

// HandleListAgents handles GET /v2/agents. The default flag follows the
// configured agent type.
func (h *AgentsHandler) HandleListAgents(c *gin.Context) {
	configured, ok := datatypes.NormalizeAgentType(h.settings().Agent.Type)
	if !ok {
		configured = datatypes.AgentReAct
	}
	types := []datatypes.AgentType{datatypes.AgentBasic, datatypes.AgentReAct, datatypes.AgentPlan}
	agents := make([]gin.H, 0, len(types))
	for _, t := range types {
		agents = append(agents, gin.H{
			"type":        string(t),
			"description": agentDescriptions[t],
			"default":     t == configured,
		})
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// HandleAgentGraph handles GET /v2/agents/:agentType/graph, returning
// the node and edge structure of the requested agent.
func (h *AgentsHandler) HandleAgentGraph(c *gin.Context) {
	agentType, ok := datatypes.NormalizeAgentType(c.Param("agentType"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown agent type: " + c.Param("agentType")})
		return
	}

	structure, err := agent.Structure(agentType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeErrorForClient(err.Error())})
		return
	}
	c.JSON(http.StatusOK, structure)
}
