// Package extraction implements the Extraction Stage (C4, spec.md
// §4.4): given a raw note, produces a validated set of entities,
// inter-entity relationships, and per-field confidences via a single
// forced tool-use call, grounded on internal/llm (itself grounded on
// the teacher's internal/compact haikuClient retry discipline).
package extraction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/steveyegge/pm/internal/apierrors"
	"github.com/steveyegge/pm/internal/llm"
	"github.com/steveyegge/pm/internal/types"
)

// EvidenceSpan mirrors types.Evidence but keyed by the note itself
// (rawNoteId is implicit — the whole extraction is scoped to one note).
type EvidenceSpan struct {
	Quote       string `json:"quote"`
	StartOffset *int   `json:"startOffset,omitempty"`
	EndOffset   *int   `json:"endOffset,omitempty"`
}

// FieldValue is one extracted field with its confidence and evidence.
type FieldValue struct {
	Value      any            `json:"value"`
	Confidence float64        `json:"confidence"`
	Evidence   []EvidenceSpan `json:"evidence"`
}

// ExtractedEntity is one entity proposed by Phase A, prior to Phase B's
// project/epic/assignee decisions (spec.md §4.4 "the stage does not
// decide project/epic/assignee identities").
type ExtractedEntity struct {
	Type           types.EntityType      `json:"type"`
	TypeConfidence float64               `json:"typeConfidence"`
	Content        FieldValue            `json:"content"`
	Attributes     map[string]FieldValue `json:"attributes"`
}

// ExtractedRelationship references entities by index into Result.Entities.
type ExtractedRelationship struct {
	SourceIndex int                    `json:"sourceIndex"`
	TargetIndex int                    `json:"targetIndex"`
	Type        types.RelationshipType `json:"type"`
}

// Result is the validated Phase A output.
type Result struct {
	Entities      []ExtractedEntity       `json:"entities"`
	Relationships []ExtractedRelationship `json:"relationships"`
}

// Config is the process-wide extraction configuration (spec.md §4.4).
type Config struct {
	Model           string
	PromptVersion   string
	MaxOutputTokens int64
}

// Input is what the stage needs to know about the note being processed.
type Input struct {
	Content    string
	Source     types.NoteSource
	CapturedAt string
	SourceMeta map[string]any
}

// Extract runs Phase A: one tool-use call, schema validation, and —
// on validation failure — exactly one retry with the validation issues
// appended to the prompt (spec.md §4.3 "retried once with the
// validation errors appended", §4.4).
func Extract(ctx context.Context, client *llm.Client, cfg Config, in Input) (Result, error) {
	prompt := renderPrompt(in, nil)

	raw, err := client.Invoke(ctx, llm.ToolCall{
		System:       systemPreamble,
		UserMessage:  prompt,
		ToolName:     toolName,
		ToolDesc:     toolDescription,
		InputSchema:  toolSchema,
		MaxTokens:    cfg.MaxOutputTokens,
		OperationTag: "extraction",
	})
	if err != nil {
		return Result{}, err
	}

	result, issues := parseAndValidate(raw)
	if len(issues) == 0 {
		return result, nil
	}

	retryPrompt := renderPrompt(in, issues)
	raw, err = client.Invoke(ctx, llm.ToolCall{
		System:       systemPreamble,
		UserMessage:  retryPrompt,
		ToolName:     toolName,
		ToolDesc:     toolDescription,
		InputSchema:  toolSchema,
		MaxTokens:    cfg.MaxOutputTokens,
		OperationTag: "extraction",
	})
	if err != nil {
		return Result{}, err
	}

	result, issues = parseAndValidate(raw)
	if len(issues) > 0 {
		return Result{}, apierrors.New(apierrors.CodeValidation, fmt.Sprintf("extraction: schema validation failed after retry: %v", issues)).WithDetails(issues)
	}
	return result, nil
}

func parseAndValidate(raw json.RawMessage) (Result, []string) {
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, []string{fmt.Sprintf("invalid JSON: %v", err)}
	}
	return result, validate(result)
}

// validate enforces spec.md §4.4's structural invariants: every entity
// has a recognized type and non-empty content, confidences are in
// [0,1], and relationship indices point into the entities array.
// Entity-level confidence is not read from the model at all; callers
// compute it with EntityConfidence.
func validate(r Result) []string {
	var issues []string
	for i, e := range r.Entities {
		if types.StatusesForType(e.Type) == nil {
			issues = append(issues, fmt.Sprintf("entities[%d]: unrecognized type %q", i, e.Type))
		}
		if e.TypeConfidence < 0 || e.TypeConfidence > 1 {
			issues = append(issues, fmt.Sprintf("entities[%d]: typeConfidence out of range", i))
		}
		if s, ok := e.Content.Value.(string); !ok || s == "" {
			issues = append(issues, fmt.Sprintf("entities[%d]: content must be a non-empty string", i))
		}
		if e.Content.Confidence < 0 || e.Content.Confidence > 1 {
			issues = append(issues, fmt.Sprintf("entities[%d]: content confidence out of range", i))
		}
		for field, fv := range e.Attributes {
			if fv.Confidence < 0 || fv.Confidence > 1 {
				issues = append(issues, fmt.Sprintf("entities[%d].attributes[%s]: confidence out of range", i, field))
			}
		}
	}
	for i, rel := range r.Relationships {
		if rel.SourceIndex < 0 || rel.SourceIndex >= len(r.Entities) || rel.TargetIndex < 0 || rel.TargetIndex >= len(r.Entities) {
			issues = append(issues, fmt.Sprintf("relationships[%d]: index out of range", i))
		}
	}
	return issues
}

// EntityConfidence computes invariant (iv) of spec.md §9: entity-level
// confidence equals the minimum of content's and every attribute
// field's confidence.
func EntityConfidence(e ExtractedEntity) float64 {
	min := e.Content.Confidence
	for _, fv := range e.Attributes {
		if fv.Confidence < min {
			min = fv.Confidence
		}
	}
	return min
}
