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
	"testing"
)

func TestToToolDef_AnalysisTool(t *testing.T) {
	def := ToToolDef(inspectPoint())

	if def.Type != "function" {
		t.Errorf("Type = %q, want %q", def.Type, "function")
	}
	if def.Function.Name != "inspect-point" {
		t.Errorf("Name = %q, want %q", def.Function.Name, "inspect-point")
	}
	if def.Function.Parameters.Type != "object" {
		t.Errorf("Parameters.Type = %q, want object", def.Function.Parameters.Type)
	}
	if len(def.Function.Parameters.Required) != 1 || def.Function.Parameters.Required[0] != "point" {
		t.Errorf("Required = %v, want [point]", def.Function.Parameters.Required)
	}
	if got := def.Function.Parameters.Properties["point"].Type; got != "string" {
		t.Errorf("point type = %q, want string", got)
	}
}

func TestToToolDef_Nested(t *testing.T) {
	tool := NewTransitionTool("submit", "Conclude your analysis.", Object(map[string]*Schema{
		"editSuggestions": Array("Suggested edits", Object(map[string]*Schema{
			"file":   String("Path"),
			"action": {Type: TypeString, Enum: []string{"add", "change"}},
		}, "file")),
	}), edgeSubmit)

	def := ToToolDef(tool)
	edits, ok := def.Function.Parameters.Properties["editSuggestions"]
	if !ok {
		t.Fatal("editSuggestions missing")
	}
	if edits.Type != "array" || edits.Items == nil {
		t.Fatalf("editSuggestions = %+v, want array with items", edits)
	}
	if edits.Items.Type != "object" {
		t.Errorf("items type = %q, want object", edits.Items.Type)
	}
	if len(edits.Items.Required) != 1 || edits.Items.Required[0] != "file" {
		t.Errorf("items required = %v, want [file]", edits.Items.Required)
	}
	action := edits.Items.Properties["action"]
	if len(action.Enum) != 2 || action.Enum[0] != "add" {
		t.Errorf("action enum = %v, want [add change]", action.Enum)
	}
}

func TestToToolDef_NoParameters(t *testing.T) {
	def := ToToolDef(confirmTool())
	if def.Function.Parameters.Type != "object" {
		t.Errorf("Parameters.Type = %q, want object", def.Function.Parameters.Type)
	}
	if def.Function.Parameters.Properties != nil {
		t.Errorf("Properties = %v, want nil", def.Function.Parameters.Properties)
	}
}

func TestExport_PreservesOrder(t *testing.T) {
	defs := Export([]Tool{submitTool(), inspectData(), inspectPoint()})
	want := []string{"submit", "inspect-data", "inspect-point"}
	for i, d := range defs {
		if d.Function.Name != want[i] {
			t.Errorf("defs[%d] = %q, want %q", i, d.Function.Name, want[i])
		}
	}
}
