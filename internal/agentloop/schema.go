package agentloop

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// schemaReflector is shared so repeated SchemaFor calls reuse its internal
// type cache rather than re-walking struct tags each time.
var schemaReflector = &jsonschema.Reflector{
	ExpandedStruct:            true,
	DoNotReference:            true,
	AllowAdditionalProperties: false,
}

// SchemaFor generates a JSON Schema object for a tool's argument struct
// using struct tags (jsonschema:"required,description=...") the way
// invopop/jsonschema is driven elsewhere in the ecosystem. Tools that need
// a hand-written schema (e.g. a free-form map) can skip this and return a
// literal map from Schema() instead.
func SchemaFor(v any) map[string]any {
	schema := schemaReflector.Reflect(v)
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}
