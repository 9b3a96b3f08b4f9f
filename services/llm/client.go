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

import "context"

// GenerationParams holds sampling parameters. Nil fields use the provider
// default.
type GenerationParams struct {
	Temperature   *float32 `json:"temperature"`
	TopP          *float32 `json:"top_p"`
	MaxTokens     *int     `json:"max_tokens"`
	Stop          []string `json:"stop"`
	ModelOverride string   `json:"model_override,omitempty"`
}

// ToolChatClient is a chat backend that supports function calling.
type ToolChatClient interface {
	ChatWithTools(ctx context.Context, messages []ChatMessage,
		params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error)
}
