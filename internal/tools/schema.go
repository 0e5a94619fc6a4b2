package tools

// JSONSchema renders the parameters as a JSON Schema object, the shape both
// OpenAI function tools and Anthropic tool input schemas accept.
func (d Descriptor) JSONSchema() map[string]any {
	props := make(map[string]any, len(d.Parameters))
	required := make([]string, 0, len(d.Parameters))

	for _, p := range d.Parameters {
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
