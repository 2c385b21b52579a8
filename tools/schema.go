package tools

// Schema helpers for building JSON Schema definitions.

// Schema is a JSON Schema fragment.
type Schema = map[string]interface{}

// ObjectSchema creates an object schema with the given properties.
func ObjectSchema(properties Schema, required ...string) Schema {
	schema := Schema{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringProperty creates a string property with optional description.
func StringProperty(description string) Schema {
	return Schema{
		"type":        "string",
		"description": description,
	}
}

// StringEnumProperty creates a string property with allowed values.
func StringEnumProperty(description string, values ...string) Schema {
	return Schema{
		"type":        "string",
		"description": description,
		"enum":        values,
	}
}

// ArrayProperty creates an array property with the given item type.
func ArrayProperty(description string, itemType Schema) Schema {
	return Schema{
		"type":        "array",
		"description": description,
		"items":       itemType,
	}
}

// WithThought adds a thought parameter to an existing schema.
// If requireThought is true, "thought" is added to the required array.
func WithThought(schema Schema, requireThought bool) Schema {
	result := make(Schema, len(schema))
	for k, v := range schema {
		result[k] = v
	}

	props := Schema{}
	if existing, ok := result["properties"].(Schema); ok {
		for k, v := range existing {
			props[k] = v
		}
	}
	props["thought"] = StringProperty(
		"Your reasoning about what is worth remembering and why existing memories change.",
	)
	result["properties"] = props

	if requireThought {
		required, _ := result["required"].([]string)
		result["required"] = append(append([]string{}, required...), "thought")
	}
	return result
}

// BuildSchemaWithThought creates an ObjectSchema and adds thought support in one call.
func BuildSchemaWithThought(properties Schema, requireThought bool, required ...string) Schema {
	return WithThought(ObjectSchema(properties, required...), requireThought)
}
