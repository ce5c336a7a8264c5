// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianStudio/services/gateway/session"
)

// SessionsHandler serves the session administration endpoints.
type SessionsHandler struct {
	store session.Store
}

// NewSessionsHandler creates a sessions handler.
func NewSessionsHandler(store session.Store) *SessionsHandler {
	return &SessionsHandler{store: store}
}

// HandleListSessions handles GET /v2/sessions, most recently updated
// first.
func (h *SessionsHandler) HandleListSessions(c *gin.Context) {
	infos, err := h.store.List(c.Request.Context())
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeErrorForClient(err.Error())})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": infos, "count": len(infos)})
}

// HandleSessionHistory handles GET /v2/sessions/:sessionId/history.
func (h *SessionsHandler) HandleSessionHistory(c *gin.Context) {
	id := c.Param("sessionId")
	if !session.ValidSessionID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session_id"})
		return
	}

	sess, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		slog.Error("Failed to load session", "sessionId", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeErrorForClient(err.Error())})
		return
	}

	c.JSON(http.StatusOK, datatypes.SessionHistoryResponse{
		SessionID: sess.ID,
		Messages:  sess.Messages,
	})
}

// HandleDeleteSession handles DELETE /v2/sessions/:sessionId.
func (h *SessionsHandler) HandleDeleteSession(c *gin.Context) {
	id := c.Param("sessionId")
	if !session.ValidSessionID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session_id"})
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		slog.Error("Failed to delete session", "sessionId", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeErrorForClient(err.Error())})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
