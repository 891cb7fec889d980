package materialize

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/pm/internal/extraction"
	"github.com/steveyegge/pm/internal/types"
)

func TestConfigThreshold_DefaultsWhenUnset(t *testing.T) {
	var c Config
	assert.Equal(t, DefaultConfidenceThreshold, c.threshold())
}

func TestConfigThreshold_UsesOverride(t *testing.T) {
	c := Config{ConfidenceThreshold: 0.75}
	assert.Equal(t, 0.75, c.threshold())
}

func TestBuildEntity_HighConfidenceAttributeApplied(t *testing.T) {
	ee := extraction.ExtractedEntity{
		Type:           types.EntityTask,
		TypeConfidence: 0.95,
		Content:        extraction.FieldValue{Value: "Fix the bug", Confidence: 0.95},
		Attributes: map[string]extraction.FieldValue{
			"priorityHint": {Value: "high", Confidence: 0.95},
		},
	}
	note := types.RawNote{ID: uuid.New(), Source: types.SourceCLI}

	entity, fcs := buildEntity(ee, note, Config{})
	assert.Equal(t, "high", entity.Attributes["priorityHint"])
	assert.Equal(t, types.TaskCaptured, entity.Status)
	require.Len(t, fcs, 2)
}

func TestBuildEntity_LowConfidenceAttributeOmittedFromEntity(t *testing.T) {
	ee := extraction.ExtractedEntity{
		Type:           types.EntityTask,
		TypeConfidence: 0.95,
		Content:        extraction.FieldValue{Value: "Fix the bug", Confidence: 0.95},
		Attributes: map[string]extraction.FieldValue{
			"assigneeHint": {Value: "dana", Confidence: 0.4},
		},
	}
	note := types.RawNote{ID: uuid.New(), Source: types.SourceCLI}

	entity, _ := buildEntity(ee, note, Config{})
	_, ok := entity.Attributes["assigneeHint"]
	assert.False(t, ok)
}

func TestDerivePermalink_Slack(t *testing.T) {
	note := types.RawNote{Source: types.SourceSlack, SourceMeta: map[string]any{"permalink": "https://slack.example/p1"}}
	link := derivePermalink(note, extraction.EvidenceSpan{Quote: "x"})
	require.NotNil(t, link)
	assert.Equal(t, "https://slack.example/p1", *link)
}

func TestDerivePermalink_Obsidian(t *testing.T) {
	start := 42
	note := types.RawNote{Source: types.SourceObsidian, SourceMeta: map[string]any{"filePath": "notes/today.md"}}
	link := derivePermalink(note, extraction.EvidenceSpan{Quote: "x", StartOffset: &start})
	require.NotNil(t, link)
	assert.Equal(t, "file://notes/today.md#42", *link)
}

func TestDerivePermalink_OtherSourceOmitted(t *testing.T) {
	note := types.RawNote{Source: types.SourceCLI}
	link := derivePermalink(note, extraction.EvidenceSpan{Quote: "x"})
	assert.Nil(t, link)
}
