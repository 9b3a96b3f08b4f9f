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
	"fmt"
	"sort"
)

// SchemaType is a JSON Schema primitive type name.
type SchemaType string

const (
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
	TypeArray   SchemaType = "array"
	TypeObject  SchemaType = "object"
)

// Schema describes a tool parameter, possibly nested.
//
// Description:
//
//	The root schema of every tool is an object. Array nodes carry an Items
//	schema; object nodes carry Properties and Required. Enum is only
//	meaningful on string nodes.
//
// Thread Safety: Schemas are treated as immutable once registered.
type Schema struct {
	Type        SchemaType         `yaml:"type" json:"type" validate:"required,oneof=string number integer boolean array object"`
	Description string             `yaml:"description,omitempty" json:"description,omitempty"`
	Enum        []string           `yaml:"enum,omitempty" json:"enum,omitempty"`
	Items       *Schema            `yaml:"items,omitempty" json:"items,omitempty"`
	Properties  map[string]*Schema `yaml:"properties,omitempty" json:"properties,omitempty"`
	Required    []string           `yaml:"required,omitempty" json:"required,omitempty"`
}

// Object builds an object schema. Required names must appear in props.
func Object(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: TypeObject, Properties: props, Required: required}
}

// String builds a string schema with a description.
func String(description string) *Schema {
	return &Schema{Type: TypeString, Description: description}
}

// Array builds an array schema whose elements follow items.
func Array(description string, items *Schema) *Schema {
	return &Schema{Type: TypeArray, Description: description, Items: items}
}

// Validate checks structural consistency of the schema tree.
//
// Outputs:
//   - error: Non-nil with the JSON path of the first invalid node.
func (s *Schema) Validate() error {
	return s.validate("$")
}

func (s *Schema) validate(path string) error {
	if s == nil {
		return fmt.Errorf("%s: schema is nil", path)
	}
	switch s.Type {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean:
	case TypeArray:
		if s.Items == nil {
			return fmt.Errorf("%s: array schema requires items", path)
		}
		if err := s.Items.validate(path + "[]"); err != nil {
			return err
		}
	case TypeObject:
		for _, name := range s.propertyNames() {
			if err := s.Properties[name].validate(path + "." + name); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%s: unknown schema type %q", path, s.Type)
	}

	if len(s.Enum) > 0 && s.Type != TypeString {
		return fmt.Errorf("%s: enum is only supported on string schemas", path)
	}
	if s.Type != TypeObject && (len(s.Properties) > 0 || len(s.Required) > 0) {
		return fmt.Errorf("%s: properties and required are only valid on object schemas", path)
	}
	seen := make(map[string]struct{}, len(s.Required))
	for _, name := range s.Required {
		if _, ok := s.Properties[name]; !ok {
			return fmt.Errorf("%s: required field %q is not a declared property", path, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%s: required field %q listed twice", path, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// propertyNames returns property names sorted for deterministic traversal.
func (s *Schema) propertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
