// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianReplay/services/llm"
)

// ToolCall is a decoded model tool call.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name" binding:"required"`
	Arguments map[string]any `json:"arguments"`
}

// DecodeToolCall converts a provider tool call into a ToolCall.
//
// Description:
//
//	Arguments may arrive as a JSON object or as a JSON string containing
//	an object; both are accepted. Empty arguments decode to an empty map.
//
// Inputs:
//   - tc: The provider-agnostic tool call.
//
// Outputs:
//   - ToolCall: The decoded call.
//   - error: Non-nil if the name is empty or arguments are not an object.
func DecodeToolCall(tc llm.ToolCallResponse) (ToolCall, error) {
	if strings.TrimSpace(tc.Name) == "" {
		return ToolCall{}, fmt.Errorf("decode tool call %q: empty tool name", tc.ID)
	}
	args := map[string]any{}
	raw := tc.ArgumentsString()
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return ToolCall{}, fmt.Errorf("decode tool call %s arguments: %w", tc.Name, err)
		}
		if args == nil {
			args = map[string]any{}
		}
	}
	return ToolCall{ID: tc.ID, Name: tc.Name, Arguments: args}, nil
}
