package organization

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/pm/internal/types"
)

func TestValidate_RejectsUnknownProjectID(t *testing.T) {
	in := Input{ActiveProjects: []ProjectSummary{{ID: uuid.New(), Name: "Infra"}}}
	result := Result{SuggestedProject: &ScoredField{ID: uuidPtr(uuid.New()), Confidence: 0.9}}

	issues := validate(result, in)
	require.NotEmpty(t, issues)
}

func TestValidate_AcceptsKnownProjectID(t *testing.T) {
	pid := uuid.New()
	in := Input{ActiveProjects: []ProjectSummary{{ID: pid, Name: "Infra"}}}
	result := Result{SuggestedProject: &ScoredField{ID: uuidPtr(pid), Confidence: 0.9}}

	issues := validate(result, in)
	assert.Empty(t, issues)
}

func TestValidate_RejectsOutOfRangeConfidence(t *testing.T) {
	pid := uuid.New()
	in := Input{ActiveProjects: []ProjectSummary{{ID: pid}}}
	result := Result{SuggestedProject: &ScoredField{ID: uuidPtr(pid), Confidence: 1.5}}

	issues := validate(result, in)
	require.NotEmpty(t, issues)
}

func TestValidate_EpicProposalRequiresCandidates(t *testing.T) {
	pid := uuid.New()
	in := Input{ActiveProjects: []ProjectSummary{{ID: pid}}}
	result := Result{EpicProposals: []EpicProposal{{Name: "Auth rework", ProjectID: pid}}}

	issues := validate(result, in)
	require.NotEmpty(t, issues)
}

func TestParseAndValidate_InvalidJSON(t *testing.T) {
	_, issues := parseAndValidate(json.RawMessage(`not json`), Input{})
	require.NotEmpty(t, issues)
}

func TestRenderPrompt_IncludesContextBatches(t *testing.T) {
	pid := uuid.New()
	in := Input{
		Entity:         types.Entity{ID: uuid.New(), Type: types.EntityTask, Content: "fix the bug"},
		ActiveProjects: []ProjectSummary{{ID: pid, Name: "Infra"}},
	}
	prompt := renderPrompt(in, nil)
	assert.Contains(t, prompt, "fix the bug")
	assert.Contains(t, prompt, "Infra")
}

func uuidPtr(id uuid.UUID) *uuid.UUID { return &id }
