package tools

import "github.com/becomeliminal/nim-recall/llm"

// RecordMemoryOperations is the tool the memory saver forces the model to call.
const RecordMemoryOperations = "record_memory_operations"

// Memory operation names.
const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpDelete = "delete"
)

// MemoryToolDefinitions returns the tools used for structured memory
// extraction.
func MemoryToolDefinitions() []llm.ToolDefinition {
	operation := ObjectSchema(Schema{
		"operation": StringEnumProperty("What to do with long-term memory", OpAdd, OpUpdate, OpDelete),
		"id":        StringProperty("Id of an existing memory. Required for update and delete."),
		"text":      StringProperty("The fact as one self-contained sentence. Required for add and update."),
	}, "operation")

	return []llm.ToolDefinition{
		{
			Name: RecordMemoryOperations,
			Description: "Record durable facts about the user learned from the conversation. " +
				"Emit an empty list when nothing new is worth remembering.",
			InputSchema: BuildSchemaWithThought(Schema{
				"operations": ArrayProperty("Memory operations to apply, in order", operation),
			}, false, "operations"),
		},
	}
}
