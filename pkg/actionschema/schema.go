// Package actionschema derives JSON schemas from the model registry and
// validates action payloads against them before any database interaction.
package actionschema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/openslides/backend/pkg/actionerror"
	"github.com/openslides/backend/pkg/model"
)

// Schema wraps a compiled gojsonschema document together with the action
// name it was derived for, so validation errors can name the action.
type Schema struct {
	action string
	doc    *gojsonschema.Schema
}

// jsonType maps a model.ValueKind to the JSON-schema type keyword used for
// the corresponding property.
func jsonType(f model.Field) any {
	switch f.Kind {
	case model.KindString, model.KindEnum:
		return "string"
	case model.KindInteger:
		return "integer"
	case model.KindBoolean:
		return "boolean"
	case model.KindList:
		return "array"
	default:
		return "string"
	}
}

func propertyFor(f model.Field) map[string]any {
	prop := map[string]any{"type": jsonType(f)}
	if f.Kind == model.KindEnum && len(f.Enum) > 0 {
		prop["enum"] = f.Enum
	}
	if f.IsRelation() && f.Relation.Generic {
		prop["type"] = "string" // wire form is "collection/id"
	}
	return prop
}

// build assembles the raw JSON-schema document (draft-07 object schema) for
// an action name given the model and the required/optional property lists.
func build(m *model.Model, required, optional []string) ([]byte, error) {
	properties := map[string]any{}
	for _, name := range append(append([]string{}, required...), optional...) {
		f, ok := m.Field(name)
		if !ok {
			return nil, fmt.Errorf("actionschema: %s has no field %q", m.Collection, name)
		}
		if f.ReadOnly {
			return nil, fmt.Errorf("actionschema: %s.%s is read-only and cannot appear in an action schema", m.Collection, name)
		}
		properties[name] = propertyFor(f)
	}
	doc := map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"title":                string(m.Collection),
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return json.Marshal(doc)
}

func compile(action string, m *model.Model, required, optional []string) (*Schema, error) {
	raw, err := build(m, required, optional)
	if err != nil {
		return nil, err
	}
	doc, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("actionschema: compiling schema for %s: %w", action, err)
	}
	return &Schema{action: action, doc: doc}, nil
}

// ForCreate derives the schema a create action validates its payload
// against: the listed required properties plus every optional one, all
// typed from the model.
func ForCreate(action string, m *model.Model, required, optional []string) (*Schema, error) {
	return compile(action, m, required, optional)
}

// ForUpdate derives the schema an update action validates its payload
// against: "id" is always required, the listed fields are optional.
func ForUpdate(action string, m *model.Model, optional []string) (*Schema, error) {
	raw, err := build(m, nil, optional)
	if err != nil {
		return nil, err
	}
	// "id" is read-only on every model (it is assigned by the datastore), so
	// it is patched in after build() instead of going through the read-only
	// check that keeps it out of create schemas.
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	props := doc["properties"].(map[string]any)
	props["id"] = map[string]any{"type": "integer"}
	doc["required"] = []string{"id"}
	raw, err = json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("actionschema: compiling update schema for %s: %w", action, err)
	}
	return &Schema{action: action, doc: compiled}, nil
}

// FromDocument compiles a literal JSON-schema document for a custom action
// (e.g. agenda_item.assign, agenda_item.numbering) that does not derive
// cleanly from a single model.
func FromDocument(action string, raw json.RawMessage) (*Schema, error) {
	doc, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("actionschema: compiling custom schema for %s: %w", action, err)
	}
	return &Schema{action: action, doc: doc}, nil
}

// Validate checks payload against the schema, returning a *actionerror.SchemaError
// listing every violation's JSON pointer and message.
func (s *Schema) Validate(payload json.RawMessage) error {
	result, err := s.doc.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return &actionerror.SchemaError{Action: s.action, Detail: err.Error()}
	}
	if result.Valid() {
		return nil
	}
	messages := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		messages = append(messages, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return &actionerror.SchemaError{Action: s.action, Detail: strings.Join(messages, "; ")}
}
