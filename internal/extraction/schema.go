package extraction

const toolName = "record_extraction"

const toolDescription = "Record the entities and relationships identified in the note."

// toolSchema is the JSON Schema passed as the tool's input schema
// (spec.md §4.4's output contract): a list of entities, each carrying
// a content field and a free-form attributes map, every leaf value
// wrapped with a confidence and supporting evidence quotes, plus a
// list of relationships referencing entities by index.
var toolSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"entities": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type": map[string]any{
						"type": "string",
						"enum": []string{"task", "decision", "insight"},
					},
					"typeConfidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"content":        fieldValueSchema(map[string]any{"type": "string"}),
					"attributes": map[string]any{
						"type":                 "object",
						"additionalProperties": fieldValueSchema(map[string]any{}),
					},
				},
				"required": []string{"type", "typeConfidence", "content"},
			},
		},
		"relationships": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"sourceIndex": map[string]any{"type": "integer"},
					"targetIndex": map[string]any{"type": "integer"},
					"type": map[string]any{
						"type": "string",
						"enum": []string{"derived_from", "related_to", "duplicate_of", "blocks"},
					},
				},
				"required": []string{"sourceIndex", "targetIndex", "type"},
			},
		},
	},
	"required": []string{"entities", "relationships"},
}

func fieldValueSchema(valueSchema map[string]any) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value":      valueSchema,
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"evidence": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"quote":       map[string]any{"type": "string"},
						"startOffset": map[string]any{"type": "integer"},
						"endOffset":   map[string]any{"type": "integer"},
					},
					"required": []string{"quote"},
				},
			},
		},
		"required": []string{"value", "confidence", "evidence"},
	}
}
