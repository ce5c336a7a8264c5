// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianStudio/pkg/logging"
	"github.com/AleutianAI/AleutianStudio/pkg/ux"
	"github.com/AleutianAI/AleutianStudio/services/gateway/datatypes"
)

// resolveModel picks the model and provider for chat requests. Flags
// win; otherwise the gateway's default profile is used.
func resolveModel(ctx context.Context, client *GatewayClient) (model, provider string, err error) {
	if chatModel != "" {
		return chatModel, chatProvider, nil
	}

	list, err := client.ListModels(ctx)
	if err != nil {
		return "", "", fmt.Errorf("discovering default model: %w", err)
	}
	for _, models := range list.Models {
		for _, m := range models {
			if m.Default && m.Available {
				return m.Name, m.Provider, nil
			}
		}
	}
	return "", "", errors.New("no default LLM profile available on the gateway; pass --model")
}

// chatLogger writes chat turn records to the CLI log file without
// polluting the terminal. File logging is best effort; New degrades to
// a stderr handler if the log directory cannot be opened.
func chatLogger() *logging.Logger {
	return logging.New(logging.Config{
		Service: "studio-cli",
		LogDir:  "~/.aleutianstudio/logs",
		Quiet:   true,
	})
}

func runChatCommand(cmd *cobra.Command, args []string) {
	client := NewGatewayClient()

	// Set up graceful shutdown with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	model, provider, err := resolveModel(ctx, client)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	logger := chatLogger()
	defer logger.Close()
	logger.Info("Chat session starting", "model", model, "resume", resumeSession)

	ux.Title("AleutianStudio Chat")
	ux.Muted(fmt.Sprintf("Model: %s. Type 'exit' or press Ctrl+C to quit.", model))
	if resumeSession != "" {
		ux.Muted("Resuming session " + resumeSession)
	}

	sessionID := resumeSession
	reader := bufio.NewReader(os.Stdin)

	for {
		if ctx.Err() != nil {
			break
		}

		fmt.Print(ux.Styles.Bold.Render("you> "))
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				ux.Error(fmt.Sprintf("Reading input: %v", err))
			}
			break
		}

		message := strings.TrimSpace(line)
		if message == "" {
			continue
		}
		if message == "exit" || message == "quit" {
			break
		}

		result, err := streamTurn(ctx, client, datatypes.ChatRequest{
			Message:   message,
			Model:     model,
			Provider:  provider,
			AgentType: chatAgent,
			SessionID: sessionID,
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			ux.Error(err.Error())
			continue
		}

		sessionID = result.SessionID
		logger.Info("Chat turn completed",
			"sessionId", sessionID,
			"answerBytes", len(result.Answer),
			"chainValid", result.Integrity != nil && result.Integrity.Valid)
		warnOnBrokenChain(result)
	}

	if sessionID != "" {
		ux.Muted("Session: " + sessionID + " (resume with --resume)")
	}
}

func runAskCommand(cmd *cobra.Command, args []string) {
	client := NewGatewayClient()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	model, provider, err := resolveModel(ctx, client)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	question := strings.Join(args, " ")
	result, err := streamTurn(ctx, client, datatypes.ChatRequest{
		Message:   question,
		Model:     model,
		Provider:  provider,
		AgentType: chatAgent,
	})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	warnOnBrokenChain(result)
}

// streamTurn sends one chat message and renders the SSE response.
func streamTurn(ctx context.Context, client *GatewayClient, req datatypes.ChatRequest) (*ux.StreamResult, error) {
	body, err := client.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return ux.NewStreamProcessor().Process(body)
}

func warnOnBrokenChain(result *ux.StreamResult) {
	if result.Integrity != nil && !result.Integrity.Valid {
		ux.Warning(fmt.Sprintf("Response integrity check FAILED at event %d: %s",
			result.Integrity.InvalidEventIndex, result.Integrity.ErrorMessage))
	}
}
