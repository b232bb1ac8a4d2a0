package tools

// JSONSchema renders the schema as a JSON Schema object of the shape model
// providers expect: {"type": "object", "properties": {...}, "required": [...]}.
func (s Schema) JSONSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(s.Fields))
	required := make([]string, 0, len(s.Fields))

	for _, field := range s.Fields {
		prop := map[string]interface{}{
			"type":        field.Type,
			"description": field.Description,
		}
		if field.Default != nil {
			prop["default"] = field.Default
		}
		properties[field.Name] = prop
		if field.Required {
			required = append(required, field.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
