// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"github.com/AleutianAI/AleutianReplay/services/llm"
)

// ToToolDef converts a replay tool into the function-calling definition
// sent to the model.
func ToToolDef(t Tool) llm.ToolDef {
	root := t.Parameters()
	params := llm.ToolParameters{Type: string(TypeObject)}
	if root != nil {
		if len(root.Properties) > 0 {
			params.Properties = make(map[string]llm.ToolParamDef, len(root.Properties))
			for name, prop := range root.Properties {
				params.Properties[name] = toParamDef(prop)
			}
		}
		if len(root.Required) > 0 {
			params.Required = append([]string(nil), root.Required...)
		}
	}

	return llm.ToolDef{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  params,
		},
	}
}

// Export converts tools in order.
func Export(ts []Tool) []llm.ToolDef {
	out := make([]llm.ToolDef, 0, len(ts))
	for _, t := range ts {
		out = append(out, ToToolDef(t))
	}
	return out
}

func toParamDef(s *Schema) llm.ToolParamDef {
	def := llm.ToolParamDef{
		Type:        string(s.Type),
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		def.Enum = make([]any, len(s.Enum))
		for i, v := range s.Enum {
			def.Enum[i] = v
		}
	}
	if s.Items != nil {
		items := toParamDef(s.Items)
		def.Items = &items
	}
	if len(s.Properties) > 0 {
		def.Properties = make(map[string]llm.ToolParamDef, len(s.Properties))
		for name, prop := range s.Properties {
			def.Properties[name] = toParamDef(prop)
		}
	}
	if len(s.Required) > 0 {
		def.Required = append([]string(nil), s.Required...)
	}
	return def
}
