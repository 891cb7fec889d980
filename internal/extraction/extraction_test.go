package extraction

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/pm/internal/types"
)

func TestParseAndValidate_Valid(t *testing.T) {
	raw := json.RawMessage(`{
		"entities": [{"type":"task","content":{"value":"Fix the bug","confidence":0.9,"evidence":[{"quote":"fix the bug"}]}}],
		"relationships": []
	}`)

	result, issues := parseAndValidate(raw)
	require.Empty(t, issues)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, types.EntityTask, result.Entities[0].Type)
}

func TestParseAndValidate_UnrecognizedType(t *testing.T) {
	raw := json.RawMessage(`{
		"entities": [{"type":"bug","content":{"value":"x","confidence":0.9,"evidence":[]}}],
		"relationships": []
	}`)

	_, issues := parseAndValidate(raw)
	require.NotEmpty(t, issues)
}

func TestParseAndValidate_ConfidenceOutOfRange(t *testing.T) {
	raw := json.RawMessage(`{
		"entities": [{"type":"task","content":{"value":"x","confidence":1.5,"evidence":[]}}],
		"relationships": []
	}`)

	_, issues := parseAndValidate(raw)
	require.NotEmpty(t, issues)
}

func TestParseAndValidate_RelationshipIndexOutOfRange(t *testing.T) {
	raw := json.RawMessage(`{
		"entities": [{"type":"task","content":{"value":"x","confidence":0.9,"evidence":[]}}],
		"relationships": [{"sourceIndex":0,"targetIndex":5,"type":"blocks"}]
	}`)

	_, issues := parseAndValidate(raw)
	require.NotEmpty(t, issues)
}

func TestParseAndValidate_InvalidJSON(t *testing.T) {
	_, issues := parseAndValidate(json.RawMessage(`not json`))
	require.NotEmpty(t, issues)
}

func TestEntityConfidence_IsMinimumAcrossFields(t *testing.T) {
	e := ExtractedEntity{
		Content: FieldValue{Confidence: 0.9},
		Attributes: map[string]FieldValue{
			"assigneeHint": {Confidence: 0.6},
			"dueDateHint":  {Confidence: 0.8},
		},
	}
	assert.Equal(t, 0.6, EntityConfidence(e))
}

func TestEntityConfidence_NoAttributes(t *testing.T) {
	e := ExtractedEntity{Content: FieldValue{Confidence: 0.75}}
	assert.Equal(t, 0.75, EntityConfidence(e))
}

func TestRenderPrompt_IncludesFewShotsAndNote(t *testing.T) {
	prompt := renderPrompt(Input{Content: "call bob tomorrow", Source: types.SourceCLI, CapturedAt: "2026-07-31T00:00:00Z"}, nil)
	assert.Contains(t, prompt, "call bob tomorrow")
	assert.Contains(t, prompt, "Example 1:")
	assert.Contains(t, prompt, "Example 3:")
	assert.NotContains(t, prompt, "previous response failed validation")
}

func TestRenderPrompt_AppendsIssuesOnRetry(t *testing.T) {
	prompt := renderPrompt(Input{Content: "x", Source: types.SourceCLI}, []string{"entities[0]: unrecognized type"})
	assert.Contains(t, prompt, "previous response failed validation")
	assert.Contains(t, prompt, "unrecognized type")
}
