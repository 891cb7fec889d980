// Package organization implements the Organization Stage (C5, spec.md
// §4.5): given one newly-created entity and context batches (active
// projects, open epics, recent entities, the user directory), proposes
// a project/epic/assignee assignment, duplicate candidates, and new
// -epic proposals via the same forced tool-use discipline as
// internal/extraction.
package organization

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/steveyegge/pm/internal/apierrors"
	"github.com/steveyegge/pm/internal/llm"
	"github.com/steveyegge/pm/internal/types"
)

// ScoredField is a suggested id with an overall confidence for that
// suggestion (spec.md §4.5 "each with an aiConfidence").
type ScoredField struct {
	ID         *uuid.UUID `json:"id,omitempty"`
	Confidence float64    `json:"confidence"`
}

// DuplicateCandidate flags a possible duplicate of an existing entity.
type DuplicateCandidate struct {
	EntityID        uuid.UUID `json:"entityId"`
	SimilarityScore float64   `json:"similarityScore"`
	Reason          string    `json:"reason"`
}

// EpicProposal suggests creating a new epic grouping several entities.
type EpicProposal struct {
	Name               string      `json:"name"`
	Description        *string     `json:"description,omitempty"`
	ProjectID          uuid.UUID   `json:"projectId"`
	CandidateEntityIDs []uuid.UUID `json:"candidateEntityIds"`
	Confidence         float64     `json:"confidence"`
}

// Result is the validated Phase B output.
type Result struct {
	SuggestedProject  *ScoredField         `json:"suggestedProject,omitempty"`
	SuggestedEpic     *ScoredField         `json:"suggestedEpic,omitempty"`
	SuggestedAssignee *ScoredField         `json:"suggestedAssignee,omitempty"`
	DuplicateCandidates []DuplicateCandidate `json:"duplicateCandidates"`
	EpicProposals       []EpicProposal       `json:"epicProposals"`
}

// Config is the process-wide organization configuration.
type Config struct {
	Model           string
	PromptVersion   string
	MaxOutputTokens int64
}

// ProjectSummary, EpicSummary, EntitySummary, and UserSummary are the
// context batches fed to the model (spec.md §4.5 "active projects, open
// epics, recent entities, the user directory").
type ProjectSummary struct {
	ID          uuid.UUID
	Name        string
	Description *string
}

type EpicSummary struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Name      string
}

type EntitySummary struct {
	ID      uuid.UUID
	Type    types.EntityType
	Content string
}

type UserSummary struct {
	ID   uuid.UUID
	Name string
}

// Input is one newly-created entity plus its context batches.
type Input struct {
	Entity        types.Entity
	ActiveProjects []ProjectSummary
	OpenEpics      []EpicSummary
	RecentEntities []EntitySummary
	Users          []UserSummary
}

// Organize runs Phase B: one tool-use call, schema validation, and —
// on validation failure — exactly one retry with the validation issues
// appended to the prompt (spec.md §4.5 "same LLM tool-use discipline as
// C4").
func Organize(ctx context.Context, client *llm.Client, cfg Config, in Input) (Result, error) {
	prompt := renderPrompt(in, nil)

	raw, err := client.Invoke(ctx, llm.ToolCall{
		System:       systemPreamble,
		UserMessage:  prompt,
		ToolName:     toolName,
		ToolDesc:     toolDescription,
		InputSchema:  toolSchema,
		MaxTokens:    cfg.MaxOutputTokens,
		OperationTag: "organization",
	})
	if err != nil {
		return Result{}, err
	}

	result, issues := parseAndValidate(raw, in)
	if len(issues) == 0 {
		return result, nil
	}

	raw, err = client.Invoke(ctx, llm.ToolCall{
		System:       systemPreamble,
		UserMessage:  renderPrompt(in, issues),
		ToolName:     toolName,
		ToolDesc:     toolDescription,
		InputSchema:  toolSchema,
		MaxTokens:    cfg.MaxOutputTokens,
		OperationTag: "organization",
	})
	if err != nil {
		return Result{}, err
	}

	result, issues = parseAndValidate(raw, in)
	if len(issues) > 0 {
		return Result{}, apierrors.New(apierrors.CodeValidation, fmt.Sprintf("organization: schema validation failed after retry: %v", issues)).WithDetails(issues)
	}
	return result, nil
}

func parseAndValidate(raw json.RawMessage, in Input) (Result, []string) {
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, []string{fmt.Sprintf("invalid JSON: %v", err)}
	}
	return result, validate(result, in)
}

// validate enforces spec.md §4.5's structural invariants: confidences
// in [0,1], and every referenced id (project, epic, assignee,
// duplicate, epic-proposal project) actually appears in the context
// batches the model was given — a hallucinated id is a schema issue to
// retry, not a silent pass-through.
func validate(r Result, in Input) []string {
	var issues []string

	checkScored := func(label string, f *ScoredField, known func(uuid.UUID) bool) {
		if f == nil {
			return
		}
		if f.Confidence < 0 || f.Confidence > 1 {
			issues = append(issues, fmt.Sprintf("%s: confidence out of range", label))
		}
		if f.ID != nil && !known(*f.ID) {
			issues = append(issues, fmt.Sprintf("%s: id %s not among the provided candidates", label, *f.ID))
		}
	}

	projectIDs := make(map[uuid.UUID]bool, len(in.ActiveProjects))
	for _, p := range in.ActiveProjects {
		projectIDs[p.ID] = true
	}
	epicIDs := make(map[uuid.UUID]bool, len(in.OpenEpics))
	for _, ep := range in.OpenEpics {
		epicIDs[ep.ID] = true
	}
	userIDs := make(map[uuid.UUID]bool, len(in.Users))
	for _, u := range in.Users {
		userIDs[u.ID] = true
	}
	entityIDs := make(map[uuid.UUID]bool, len(in.RecentEntities))
	for _, e := range in.RecentEntities {
		entityIDs[e.ID] = true
	}

	checkScored("suggestedProject", r.SuggestedProject, func(id uuid.UUID) bool { return projectIDs[id] })
	checkScored("suggestedEpic", r.SuggestedEpic, func(id uuid.UUID) bool { return epicIDs[id] })
	checkScored("suggestedAssignee", r.SuggestedAssignee, func(id uuid.UUID) bool { return userIDs[id] })

	for i, d := range r.DuplicateCandidates {
		if d.SimilarityScore < 0 || d.SimilarityScore > 1 {
			issues = append(issues, fmt.Sprintf("duplicateCandidates[%d]: similarityScore out of range", i))
		}
		if !entityIDs[d.EntityID] {
			issues = append(issues, fmt.Sprintf("duplicateCandidates[%d]: entityId %s not among the provided candidates", i, d.EntityID))
		}
	}

	for i, p := range r.EpicProposals {
		if p.Name == "" {
			issues = append(issues, fmt.Sprintf("epicProposals[%d]: name is required", i))
		}
		if !projectIDs[p.ProjectID] {
			issues = append(issues, fmt.Sprintf("epicProposals[%d]: projectId %s not among the provided candidates", i, p.ProjectID))
		}
		if len(p.CandidateEntityIDs) == 0 {
			issues = append(issues, fmt.Sprintf("epicProposals[%d]: candidateEntityIds must be non-empty", i))
		}
	}

	return issues
}
