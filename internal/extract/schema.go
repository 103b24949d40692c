// Package extract turns unstructured text into schema-conforming records
// using a text-completion service. Responses are parsed as untyped JSON,
// repaired at most once, then validated against a Schema.
package extract

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// FieldType is the primitive type a field must decode to.
type FieldType string

const (
	TypeString      FieldType = "string"
	TypeNumber      FieldType = "number"
	TypeInteger     FieldType = "integer"
	TypeBoolean     FieldType = "boolean"
	TypeStringArray FieldType = "string_array"
	TypeArray       FieldType = "array"
)

// Field describes one output field.
type Field struct {
	Name        string    `yaml:"name"`
	Type        FieldType `yaml:"type"`
	Required    bool      `yaml:"required"`
	Description string    `yaml:"description"`
}

// Schema is the field list a completion must satisfy.
type Schema struct {
	Name   string  `yaml:"name"`
	Fields []Field `yaml:"fields"`
}

// DefaultTenderSchema is the notice metadata schema used when no schema
// file is configured.
func DefaultTenderSchema() Schema {
	return Schema{
		Name: "tender_notice",
		Fields: []Field{
			{Name: "procedure_id", Type: TypeString, Required: true, Description: "procedure or notice reference number"},
			{Name: "title", Type: TypeString, Required: true, Description: "title of the contract"},
			{Name: "buyer_name", Type: TypeString, Required: true, Description: "name of the contracting authority"},
			{Name: "buyer_country", Type: TypeString, Required: true, Description: "country of the contracting authority"},
			{Name: "estimated_value", Type: TypeString, Required: true, Description: "estimated contract value including currency, empty if not stated"},
			{Name: "start_date", Type: TypeString, Description: "contract start date"},
			{Name: "duration_months", Type: TypeInteger, Description: "contract duration in months"},
			{Name: "submission_deadline", Type: TypeString, Description: "deadline for receipt of tenders"},
			{Name: "main_classification", Type: TypeString, Description: "main CPV code, 8 digits"},
			{Name: "lots", Type: TypeArray, Description: "lots, each with lot_id, title and estimated_value"},
		},
	}
}

// LoadSchema reads a YAML schema file.
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, resilience.NewClassified(model.ClassConfigurationError,
			eris.Wrapf(err, "extract: read schema %s", path))
	}
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, resilience.NewClassified(model.ClassConfigurationError,
			eris.Wrapf(err, "extract: parse schema %s", path))
	}
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// Validate checks the schema itself.
func (s Schema) Validate() error {
	if len(s.Fields) == 0 {
		return resilience.Classifiedf(model.ClassConfigurationError, "extract: schema %q has no fields", s.Name)
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return resilience.Classifiedf(model.ClassConfigurationError, "extract: schema %q has an unnamed field", s.Name)
		}
		if seen[f.Name] {
			return resilience.Classifiedf(model.ClassConfigurationError, "extract: duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeStringArray, TypeArray:
		default:
			return resilience.Classifiedf(model.ClassConfigurationError, "extract: field %q has unknown type %q", f.Name, f.Type)
		}
	}
	return nil
}

// JSONSchema renders the schema as a JSON schema object, suitable for a
// completion service's structured-output parameter.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Fields))
	var required []string
	for _, f := range s.Fields {
		var p map[string]any
		switch f.Type {
		case TypeStringArray:
			p = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
		case TypeArray:
			p = map[string]any{"type": "array"}
		default:
			p = map[string]any{"type": string(f.Type)}
		}
		if f.Description != "" {
			p["description"] = f.Description
		}
		props[f.Name] = p
		if f.Required {
			required = append(required, f.Name)
		}
	}
	out := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// Template renders an example object listing every field, the way the
// prompt shows the expected output.
func (s Schema) Template() string {
	var b strings.Builder
	b.WriteString("{\n")
	for i, f := range s.Fields {
		fmt.Fprintf(&b, "  %q: %s", f.Name, placeholder(f.Type))
		if i < len(s.Fields)-1 {
			b.WriteString(",")
		}
		note := "optional"
		if f.Required {
			note = "required"
		}
		if f.Description != "" {
			note += ", " + f.Description
		}
		fmt.Fprintf(&b, "  // %s\n", note)
	}
	b.WriteString("}")
	return b.String()
}

func placeholder(t FieldType) string {
	switch t {
	case TypeNumber, TypeInteger:
		return "0"
	case TypeBoolean:
		return "false"
	case TypeStringArray, TypeArray:
		return "[]"
	default:
		return `""`
	}
}
