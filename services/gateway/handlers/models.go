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

	"github.com/AleutianAI/AleutianStudio/services/gateway/config"
	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianStudio/services/llm"
)

// ModelsHandler serves the model discovery endpoints.
type ModelsHandler struct {
	registry *llm.Registry
	settings func() config.Settings
}

// NewModelsHandler creates a models handler.
func NewModelsHandler(registry *llm.Registry, settings func() config.Settings) *ModelsHandler {
	return &ModelsHandler{registry: registry, settings: settings}
}

// HandleListModels handles GET /v2/models. Profiles that failed to
// construct (missing API key) are listed with Available=false.
func (h *ModelsHandler) HandleListModels(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.ListModels())
}

// HandleInfo handles GET /v2/info, reporting the default profile and
// the deployment's display name from the app settings block.
func (h *ModelsHandler) HandleInfo(c *gin.Context) {
	profile, ok := h.registry.DefaultProfile()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No default LLM profile configured"})
		return
	}

	agent := h.settings().App.Agent
	if agent == "" {
		agent = "AleutianStudio"
	}
	c.JSON(http.StatusOK, datatypes.InfoResponse{
		ProfileName: profile.Name,
		Provider:    profile.Provider,
		Agent:       agent,
	})
}
