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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewOpenAIClient_DefaultModel(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_MODEL", "")

	client, err := NewOpenAIClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Model() != "gpt-4o-mini" {
		t.Errorf("model = %q, want %q", client.Model(), "gpt-4o-mini")
	}
}

func TestNewOpenAIClient_CustomModel(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_MODEL", "gpt-4o")

	client, err := NewOpenAIClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.Model() != "gpt-4o" {
		t.Errorf("model = %q, want %q", client.Model(), "gpt-4o")
	}
}

// fakeOpenAI serves one canned chat completion and captures the request body.
func fakeOpenAI(t *testing.T, status int, body string, captured *map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if captured != nil {
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

const toolCallResponse = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "",
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "submit", "arguments": "{\"problem\":\"p\"}"}
      }]
    }
  }]
}`

func TestOpenAIClient_ChatWithTools_ToolCalls(t *testing.T) {
	var req map[string]any
	server := fakeOpenAI(t, http.StatusOK, toolCallResponse, &req)
	client := NewOpenAIClientWithConfig("test-key", "gpt-4o", server.URL)

	temp := float32(0.2)
	tools := []ToolDef{{
		Type: "function",
		Function: ToolFunction{
			Name:        "submit",
			Description: "Submit the hypothesis.",
			Parameters: ToolParameters{
				Type:       "object",
				Properties: map[string]ToolParamDef{"problem": {Type: "string"}},
				Required:   []string{"problem"},
			},
		},
	}}
	messages := []ChatMessage{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "fix it"},
		{Role: "assistant", ToolCalls: []ToolCallResponse{{ID: "call_0", Name: "inspect-point", Arguments: json.RawMessage(`{"point":"p1"}`)}}},
		{Role: "tool", ToolCallID: "call_0", Content: `{"ok":true}`},
	}

	result, err := client.ChatWithTools(context.Background(), messages, GenerationParams{Temperature: &temp}, tools)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StopReason != "tool_use" {
		t.Errorf("StopReason = %q, want tool_use", result.StopReason)
	}
	if len(result.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(result.ToolCalls))
	}
	tc := result.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "submit" || string(tc.Arguments) != `{"problem":"p"}` {
		t.Errorf("tool call = %+v", tc)
	}

	if req["model"] != "gpt-4o" {
		t.Errorf("model = %v, want gpt-4o", req["model"])
	}
	sentTools, _ := req["tools"].([]any)
	if len(sentTools) != 1 {
		t.Fatalf("tools sent = %d, want 1", len(sentTools))
	}
	fn := sentTools[0].(map[string]any)["function"].(map[string]any)
	if fn["name"] != "submit" {
		t.Errorf("tool name = %v", fn["name"])
	}
	sentMessages, _ := req["messages"].([]any)
	if len(sentMessages) != 4 {
		t.Fatalf("messages sent = %d, want 4", len(sentMessages))
	}
	assistant := sentMessages[2].(map[string]any)
	calls, _ := assistant["tool_calls"].([]any)
	if len(calls) != 1 {
		t.Fatalf("assistant tool_calls = %v", assistant["tool_calls"])
	}
	toolMsg := sentMessages[3].(map[string]any)
	if toolMsg["tool_call_id"] != "call_0" {
		t.Errorf("tool_call_id = %v, want call_0", toolMsg["tool_call_id"])
	}
}

func TestOpenAIClient_ChatWithTools_TextOnly(t *testing.T) {
	body := `{"id":"x","object":"chat.completion","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"done"}}]}`
	server := fakeOpenAI(t, http.StatusOK, body, nil)
	client := NewOpenAIClientWithConfig("test-key", "", server.URL)

	result, err := client.ChatWithTools(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, GenerationParams{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "done" || result.StopReason != "end" || len(result.ToolCalls) != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestOpenAIClient_ChatWithTools_NoChoices(t *testing.T) {
	server := fakeOpenAI(t, http.StatusOK, `{"id":"x","object":"chat.completion","choices":[]}`, nil)
	client := NewOpenAIClientWithConfig("test-key", "", server.URL)

	_, err := client.ChatWithTools(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, GenerationParams{}, nil)
	if !errors.Is(err, ErrNoChoices) {
		t.Errorf("err = %v, want ErrNoChoices", err)
	}
}

func TestOpenAIClient_ChatWithTools_APIErrorIsRedacted(t *testing.T) {
	body := `{"error":{"message":"bad key sk-abcdefghijklmnopqrstuvwxyz123456","type":"invalid_request_error"}}`
	server := fakeOpenAI(t, http.StatusUnauthorized, body, nil)
	client := NewOpenAIClientWithConfig("test-key", "", server.URL)

	_, err := client.ChatWithTools(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, GenerationParams{}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(err.Error(), "openai:") {
		t.Errorf("error should include 'openai:' prefix, got: %s", err)
	}
	if strings.Contains(err.Error(), "sk-abcdefghijklmnopqrstuvwxyz123456") {
		t.Errorf("error leaks the key: %s", err)
	}
}
