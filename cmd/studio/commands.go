// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianStudio/pkg/ux"
)

// --- Global Command Variables ---
var (
	chatModel        string // LLM profile or model override for chat
	chatProvider     string // provider override (openai/azureopenai/ollama)
	chatAgent        string // agent graph: basic, react, or plan
	resumeSession    string // session ID to resume
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	rootCmd = &cobra.Command{
		Use:   "studio",
		Short: "A cli for chatting with LLMs through the AleutianStudio gateway",
		Long: `Studio is the terminal client for the AleutianStudio gateway.
It streams agent responses over SSE, verifies their integrity hash
chain, and manages stored chat sessions.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flag or environment
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Run:   runChatCommand, // Defined in cmd_chat.go
	}
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand, // Defined in cmd_chat.go
	}

	// --- Discovery ---
	modelsCmd = &cobra.Command{
		Use:   "models",
		Short: "List the LLM profiles configured on the gateway",
		Run:   runModelsCommand, // Defined in cmd_sessions.go
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Show the gateway's default profile and agent mode",
		Run:   runInfoCommand, // Defined in cmd_sessions.go
	}
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check that the gateway is reachable",
		Run:   runHealthCommand, // Defined in cmd_sessions.go
	}

	// --- Session Management ---
	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored chat sessions",
	}
	sessionsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, most recently updated first",
		Run:   runSessionsListCommand, // Defined in cmd_sessions.go
	}
	sessionsHistoryCmd = &cobra.Command{
		Use:   "history [session_id]",
		Short: "Print the message history of a session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionsHistoryCommand, // Defined in cmd_sessions.go
	}
	sessionsDeleteCmd = &cobra.Command{
		Use:   "delete [session_id]",
		Short: "Delete a session and its history",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionsDeleteCommand, // Defined in cmd_sessions.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output personality: full, standard, minimal, or machine")

	for _, cmd := range []*cobra.Command{chatCmd, askCmd} {
		cmd.Flags().StringVar(&chatModel, "model", "", "LLM profile to use (defaults to the gateway's default)")
		cmd.Flags().StringVar(&chatProvider, "provider", "", "Provider override: openai, azureopenai, or ollama")
		cmd.Flags().StringVar(&chatAgent, "agent", "", "Agent graph: basic, react, or plan")
	}
	chatCmd.Flags().StringVar(&resumeSession, "resume", "", "Resume an existing session by ID")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsHistoryCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(sessionsCmd)
}
