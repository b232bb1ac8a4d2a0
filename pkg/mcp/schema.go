package mcp

import (
	"encoding/json"

	"github.com/harun/kirana/pkg/tools"
)

// parseToolSchema converts a server-declared JSON schema into the
// structural descriptor exposed on the bridged handle. Malformed schemas
// yield an empty descriptor rather than failing the bridge.
func parseToolSchema(raw json.RawMessage) tools.Schema {
	if len(raw) == 0 {
		return tools.Schema{}
	}

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(raw, &schemaMap); err != nil {
		return tools.Schema{}
	}

	properties, ok := schemaMap["properties"].(map[string]interface{})
	if !ok {
		return tools.Schema{}
	}

	required := make(map[string]bool)
	if reqList, ok := schemaMap["required"].([]interface{}); ok {
		for _, r := range reqList {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	fields := make([]tools.Field, 0, len(properties))
	for name, propData := range properties {
		prop, ok := propData.(map[string]interface{})
		if !ok {
			continue
		}
		field := tools.Field{
			Name:     name,
			Required: required[name],
		}
		if typeVal, ok := prop["type"].(string); ok {
			field.Type = typeVal
		}
		if desc, ok := prop["description"].(string); ok {
			field.Description = desc
		}
		if defVal, ok := prop["default"]; ok {
			field.Default = defVal
		}
		fields = append(fields, field)
	}

	return tools.Schema{Fields: fields}
}
