// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	openAISecretPath   = "/run/secrets/openai_api_key"
)

// ErrNoChoices is returned when the API answers without a choice.
var ErrNoChoices = errors.New("openai: returned no choices")

// OpenAIClient implements ToolChatClient on the OpenAI chat completions API.
//
// Thread Safety: OpenAIClient is safe for concurrent use.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAIClient from the environment.
//
// Description:
//
//	Reads OPENAI_API_KEY, falling back to the mounted secret at
//	/run/secrets/openai_api_key. OPENAI_MODEL selects the model and
//	defaults to gpt-4o-mini.
//
// Outputs:
//   - *OpenAIClient: The configured client.
//   - error: Non-nil if no API key is available.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		data, err := os.ReadFile(openAISecretPath)
		if err != nil {
			slog.Warn("OpenAI API key not set and secret not found", slog.String("path", openAISecretPath))
			return nil, fmt.Errorf("openai: API key is missing (OPENAI_API_KEY)")
		}
		apiKey = strings.TrimSpace(string(data))
		slog.Info("Read the OpenAI API key from secrets")
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = defaultOpenAIModel
		slog.Warn("OPENAI_MODEL not set, defaulting to " + defaultOpenAIModel)
	}
	slog.Info("Initializing OpenAI client", slog.String("model", model))
	return &OpenAIClient{client: openai.NewClient(apiKey), model: model}, nil
}

// NewOpenAIClientWithConfig creates an OpenAIClient without reading the
// environment. baseURL may be empty for the public API.
func NewOpenAIClientWithConfig(apiKey, model, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

// Model returns the default model name.
func (o *OpenAIClient) Model() string {
	return o.model
}

// ChatWithTools sends a chat request with tool definitions and returns the
// assistant content and tool calls.
//
// Description:
//
//	Converts ChatMessage and ToolDef into go-openai types. Assistant
//	messages keep their tool calls and tool messages keep their call id so
//	multi-turn tool conversations round-trip. StopReason is "tool_use"
//	when the response carries tool calls and "end" otherwise.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - messages: Conversation history.
//   - params: Generation parameters.
//   - tools: Tool definitions. May be empty.
//
// Outputs:
//   - *ChatWithToolsResult: Content and tool calls.
//   - error: Non-nil on API failure or an empty choice list.
//
// Thread Safety: This method is safe for concurrent use.
func (o *OpenAIClient) ChatWithTools(ctx context.Context, messages []ChatMessage,
	params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error) {

	req := o.buildRequest(messages, params, tools)
	slog.Debug("ChatWithTools via OpenAI",
		slog.String("model", req.Model),
		slog.Int("messages", len(messages)),
		slog.Int("tools", len(tools)),
	)

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %s", SafeLogString(err.Error()))
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	choice := resp.Choices[0]
	result := &ChatWithToolsResult{Content: choice.Message.Content, StopReason: "end"}
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		result.ToolCalls = append(result.ToolCalls, ToolCallResponse{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	if len(result.ToolCalls) > 0 {
		result.StopReason = "tool_use"
	}

	slog.Debug("Received OpenAI tool response",
		slog.String("finish_reason", string(choice.FinishReason)),
		slog.Int("tool_calls", len(result.ToolCalls)),
	)
	return result, nil
}

func (o *OpenAIClient) buildRequest(messages []ChatMessage, params GenerationParams, tools []ToolDef) openai.ChatCompletionRequest {
	model := o.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
		switch msg.Role {
		case openai.ChatMessageRoleTool:
			m.ToolCallID = msg.ToolCallID
		case openai.ChatMessageRoleAssistant:
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.ArgumentsString(),
					},
				})
			}
		case openai.ChatMessageRoleSystem, openai.ChatMessageRoleUser:
		default:
			slog.Warn("OpenAI: unknown message role, mapping to user", slog.String("unknown_role", msg.Role))
			m.Role = openai.ChatMessageRoleUser
		}
		req.Messages = append(req.Messages, m)
	}

	for _, td := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        td.Function.Name,
				Description: td.Function.Description,
				Parameters:  td.Function.Parameters,
			},
		})
	}

	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}
