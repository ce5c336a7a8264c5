// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianStudio/pkg/ux"
)

func runModelsCommand(cmd *cobra.Command, args []string) {
	client := NewGatewayClient()
	list, err := client.ListModels(context.Background())
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	ux.Title("Configured Models")

	providers := make([]string, 0, len(list.Models))
	for provider := range list.Models {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	for _, provider := range providers {
		ux.Muted(provider + ":")
		for _, m := range list.Models[provider] {
			marker := " "
			if m.Default {
				marker = "*"
			}
			status := string(ux.IconSuccess)
			if !m.Available {
				status = string(ux.IconError)
			}
			fmt.Printf("  %s %s %s (%s)\n", marker, status, m.Name, m.Model)
		}
	}
}

func runInfoCommand(cmd *cobra.Command, args []string) {
	client := NewGatewayClient()
	info, err := client.Info(context.Background())
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	ux.Title("Gateway Info")
	fmt.Printf("Default profile: %s\n", info.ProfileName)
	fmt.Printf("Provider:        %s\n", info.Provider)
	fmt.Printf("Agent:           %s\n", info.Agent)
}

func runHealthCommand(cmd *cobra.Command, args []string) {
	client := NewGatewayClient()
	if err := client.Health(context.Background()); err != nil {
		ux.Error(err.Error())
		log.Fatalf("Error: %v", err)
	}
	ux.Success("Gateway is healthy")
}

func runSessionsListCommand(cmd *cobra.Command, args []string) {
	client := NewGatewayClient()
	sessions, err := client.ListSessions(context.Background())
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if len(sessions) == 0 {
		ux.Muted("No stored sessions.")
		return
	}

	ux.Title("Sessions")
	for _, s := range sessions {
		updated := time.UnixMilli(s.UpdatedAt).Format(time.RFC3339)
		fmt.Printf("%s  %3d messages  updated %s\n", s.SessionID, s.MessageCount, updated)
	}
}

func runSessionsHistoryCommand(cmd *cobra.Command, args []string) {
	client := NewGatewayClient()
	history, err := client.SessionHistory(context.Background(), args[0])
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	ux.Title("Session " + history.SessionID)
	for _, msg := range history.Messages {
		fmt.Printf("%s%s\n", ux.Styles.Bold.Render(msg.Role+": "), msg.Content)
		for _, call := range msg.ToolCalls {
			ux.Muted(fmt.Sprintf("  %s %s(%s)", ux.IconTool, call.Name, call.Arguments))
		}
	}
}

func runSessionsDeleteCommand(cmd *cobra.Command, args []string) {
	client := NewGatewayClient()
	if err := client.DeleteSession(context.Background(), args[0]); err != nil {
		log.Fatalf("Error: %v", err)
	}
	ux.Success("Deleted session " + args[0])
}
