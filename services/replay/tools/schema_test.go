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
	"strings"
	"testing"
)

func TestSchema_Validate(t *testing.T) {
	tests := []struct {
		name    string
		schema  *Schema
		wantErr string
	}{
		{
			name:   "flat object",
			schema: Object(map[string]*Schema{"point": String("p")}, "point"),
		},
		{
			name: "nested array of objects",
			schema: Object(map[string]*Schema{
				"edits": Array("edits", Object(map[string]*Schema{
					"file": String("f"),
					"kind": {Type: TypeString, Enum: []string{"add", "remove"}},
				}, "file")),
			}),
		},
		{
			name:    "array without items",
			schema:  Object(map[string]*Schema{"edits": {Type: TypeArray}}),
			wantErr: "$.edits: array schema requires items",
		},
		{
			name:    "unknown type",
			schema:  Object(map[string]*Schema{"x": {Type: "date"}}),
			wantErr: `$.x: unknown schema type "date"`,
		},
		{
			name:    "enum on integer",
			schema:  Object(map[string]*Schema{"n": {Type: TypeInteger, Enum: []string{"1"}}}),
			wantErr: "$.n: enum is only supported on string schemas",
		},
		{
			name:    "required not declared",
			schema:  Object(map[string]*Schema{"a": String("a")}, "b"),
			wantErr: `$: required field "b" is not a declared property`,
		},
		{
			name:    "required twice",
			schema:  Object(map[string]*Schema{"a": String("a")}, "a", "a"),
			wantErr: `$: required field "a" listed twice`,
		},
		{
			name:    "nested error path",
			schema:  Object(map[string]*Schema{"edits": Array("e", Object(nil, "file"))}),
			wantErr: `$.edits[]: required field "file" is not a declared property`,
		},
		{
			name:    "properties on string",
			schema:  &Schema{Type: TypeString, Properties: map[string]*Schema{"a": String("a")}},
			wantErr: "$: properties and required are only valid on object schemas",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestSchema_ValidateNil(t *testing.T) {
	var s *Schema
	if err := s.Validate(); err == nil {
		t.Error("Validate() on nil schema = nil, want error")
	}
}
