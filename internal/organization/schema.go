package organization

const toolName = "record_organization"

const toolDescription = "Record project/epic/assignee suggestions, duplicate candidates, and new-epic proposals for the entity."

var scoredFieldSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"id":         map[string]any{"type": "string"},
		"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
	},
	"required": []string{"id", "confidence"},
}

var toolSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"suggestedProject":  scoredFieldSchema,
		"suggestedEpic":     scoredFieldSchema,
		"suggestedAssignee": scoredFieldSchema,
		"duplicateCandidates": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"entityId":        map[string]any{"type": "string"},
					"similarityScore": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"reason":          map[string]any{"type": "string"},
				},
				"required": []string{"entityId", "similarityScore", "reason"},
			},
		},
		"epicProposals": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":        map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"projectId":   map[string]any{"type": "string"},
					"candidateEntityIds": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
					"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				},
				"required": []string{"name", "projectId", "candidateEntityIds", "confidence"},
			},
		},
	},
	"required": []string{"duplicateCandidates", "epicProposals"},
}
