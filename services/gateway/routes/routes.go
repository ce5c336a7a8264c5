// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianStudio/pkg/extensions"
	"github.com/AleutianAI/AleutianStudio/services/gateway/config"
	"github.com/AleutianAI/AleutianStudio/services/gateway/handlers"
	"github.com/AleutianAI/AleutianStudio/services/gateway/middleware"
	"github.com/AleutianAI/AleutianStudio/services/gateway/session"
	"github.com/AleutianAI/AleutianStudio/services/guard"
	"github.com/AleutianAI/AleutianStudio/services/llm"
)

// SetupRoutes registers all gateway routes on the router.
//
// /health and /metrics are unauthenticated; everything under /v2 goes
// through the configured auth provider. The settings function returns
// the current (possibly hot-reloaded) settings snapshot so handlers
// always see the latest profile set.
func SetupRoutes(
	router *gin.Engine,
	registry *llm.Registry,
	store session.Store,
	g *guard.Guard,
	settings func() config.Settings,
	opts extensions.GatewayOptions,
) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	chatHandler := handlers.NewStreamingChatHandler(registry, store, g, settings, opts)
	modelsHandler := handlers.NewModelsHandler(registry, settings)
	agentsHandler := handlers.NewAgentsHandler(settings)
	sessionsHandler := handlers.NewSessionsHandler(store)

	// API version 2 group
	v2 := router.Group("/v2")
	v2.Use(middleware.AuthMiddleware(opts.AuthProvider))
	{
		v2.POST("/chat", chatHandler.HandleChat)
		v2.GET("/chat/ws", handlers.HandleChatWebSocket(registry, store, g, settings))

		v2.GET("/models", modelsHandler.HandleListModels)
		v2.GET("/info", modelsHandler.HandleInfo)

		v2.GET("/agents", agentsHandler.HandleListAgents)
		v2.GET("/agents/:agentType/graph", agentsHandler.HandleAgentGraph)

		// Session administration routes
		sessions := v2.Group("/sessions")
		{
			sessions.GET("", sessionsHandler.HandleListSessions)
			sessions.GET("/:sessionId/history", sessionsHandler.HandleSessionHistory)
			sessions.DELETE("/:sessionId", sessionsHandler.HandleDeleteSession)
		}
	}
}
