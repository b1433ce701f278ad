package model

import (
	"encoding/json"
	"fmt"
)

// Entity is one remote OData entity as returned by the API.
type Entity map[string]any

// ID returns the entity's "id" property.
func (e Entity) ID() string {
	return e.String("id")
}

// String returns a property rendered as a string, or "" when absent.
func (e Entity) String(field string) string {
	v, ok := e[field]
	if !ok {
		return ""
	}
	return AsString(v)
}

// Children returns an expanded navigation property.
func (e Entity) Children(field string) []Entity {
	list, ok := e[field].([]any)
	if !ok {
		if typed, ok := e[field].([]Entity); ok {
			return typed
		}
		return nil
	}
	out := make([]Entity, 0, len(list))
	for _, item := range list {
		switch m := item.(type) {
		case map[string]any:
			out = append(out, Entity(m))
		case Entity:
			out = append(out, m)
		}
	}
	return out
}

// Decode copies the entity into a typed value through its JSON form.
func (e Entity) Decode(v any) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entity: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding entity: %w", err)
	}
	return nil
}
