// Package materialize implements Materialization (C6, spec.md §4.6):
// the confidence-based partition that applies high-confidence
// extraction/organization fields directly to entities and queues
// low-confidence ones as review items, per the fixed field→reviewType
// mapping table.
package materialize

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/steveyegge/pm/internal/extraction"
	"github.com/steveyegge/pm/internal/organization"
	"github.com/steveyegge/pm/internal/store"
	"github.com/steveyegge/pm/internal/types"
)

// DefaultConfidenceThreshold is the tunable constant of spec.md §4.6:
// fields scoring at or above it are applied directly; below it they
// become pending review items.
const DefaultConfidenceThreshold = 0.9

// Config tunes materialization; zero value uses DefaultConfidenceThreshold.
type Config struct {
	ConfidenceThreshold float64
	Model               string
	PromptVersion       string
}

func (c Config) threshold() float64 {
	if c.ConfidenceThreshold <= 0 {
		return DefaultConfidenceThreshold
	}
	return c.ConfidenceThreshold
}

// ExtractionResult materializes Phase A's output for one raw note.
// store.CreateEntity, each store.CreateReviewItem and each
// store.AddRelationship call runs in its own transaction; no single
// transaction spans the whole note, so an error part-way through leaves
// the rows already written in place.
func ExtractionResult(ctx context.Context, s *store.Store, note types.RawNote, result extraction.Result, cfg Config) ([]uuid.UUID, error) {
	threshold := cfg.threshold()
	entityIDs := make([]uuid.UUID, len(result.Entities))

	for i, ee := range result.Entities {
		entity, fieldConfidences := buildEntity(ee, note, cfg)
		entity.Confidence = extraction.EntityConfidence(ee)
		entity.AIMeta = &types.AIMeta{Model: cfg.Model, PromptVersion: cfg.PromptVersion, FieldConfidences: fieldConfidences}

		created, err := s.CreateEntity(ctx, entity, []uuid.UUID{note.ID})
		if err != nil {
			return nil, err
		}
		entityIDs[i] = created.ID

		if ee.TypeConfidence < threshold {
			if _, err := s.CreateReviewItem(ctx, types.ReviewItem{
				EntityID:     &created.ID,
				ReviewType:   types.ReviewTypeClassification,
				AISuggestion: map[string]any{"suggestedType": string(ee.Type)},
				AIConfidence: ee.TypeConfidence,
			}); err != nil {
				return nil, err
			}
		}

		if ee.Content.Confidence < threshold {
			if _, err := s.CreateReviewItem(ctx, types.ReviewItem{
				EntityID:     &created.ID,
				ReviewType:   types.ReviewLowConfidence,
				AISuggestion: map[string]any{"field": "content", "value": ee.Content.Value},
				AIConfidence: ee.Content.Confidence,
			}); err != nil {
				return nil, err
			}
		}

		for field, fv := range ee.Attributes {
			if fv.Confidence >= threshold {
				continue
			}
			if _, err := s.CreateReviewItem(ctx, types.ReviewItem{
				EntityID:     &created.ID,
				ReviewType:   types.ReviewLowConfidence,
				AISuggestion: map[string]any{"field": field, "value": fv.Value},
				AIConfidence: fv.Confidence,
			}); err != nil {
				return nil, err
			}
		}
	}

	for _, rel := range result.Relationships {
		if rel.SourceIndex < 0 || rel.SourceIndex >= len(entityIDs) || rel.TargetIndex < 0 || rel.TargetIndex >= len(entityIDs) {
			continue
		}
		if _, err := s.AddRelationship(ctx, types.EntityRelationship{
			SourceID: entityIDs[rel.SourceIndex],
			TargetID: entityIDs[rel.TargetIndex],
			Type:     rel.Type,
		}); err != nil {
			return nil, err
		}
	}

	return entityIDs, nil
}

// buildEntity converts one Phase A entity into a store-ready
// types.Entity: high-confidence attributes land directly on the row;
// low-confidence ones are omitted here (they surface only via the
// review item created by ExtractionResult) so the directly-visible
// entity never shows an unreviewed low-confidence guess as fact.
func buildEntity(ee extraction.ExtractedEntity, note types.RawNote, cfg Config) (types.Entity, []types.FieldConfidence) {
	threshold := cfg.threshold()

	entity := types.Entity{
		Type:       ee.Type,
		Status:     types.DefaultStatusForType(ee.Type),
		Content:    stringValue(ee.Content.Value),
		Attributes: map[string]any{},
	}

	var fieldConfidences []types.FieldConfidence
	var allEvidence []types.Evidence

	contentEvidence := toEvidence(ee.Content.Evidence, note)
	fieldConfidences = append(fieldConfidences, types.FieldConfidence{FieldPath: "content", Value: entity.Content, Confidence: ee.Content.Confidence, Evidence: contentEvidence})
	allEvidence = append(allEvidence, contentEvidence...)

	for field, fv := range ee.Attributes {
		fieldEvidence := toEvidence(fv.Evidence, note)
		fieldConfidences = append(fieldConfidences, types.FieldConfidence{FieldPath: "attributes." + field, Value: fv.Value, Confidence: fv.Confidence, Evidence: fieldEvidence})
		allEvidence = append(allEvidence, fieldEvidence...)
		if fv.Confidence >= threshold {
			entity.Attributes[field] = fv.Value
		}
	}

	entity.Evidence = allEvidence
	return entity, fieldConfidences
}

// toEvidence converts Phase A evidence spans into store evidence rows,
// deriving a permalink when the note's source supports one (spec.md
// §4.6: "Slack: sourceMeta.permalink; Obsidian: file:// + filePath
// #startOffset; otherwise omitted").
func toEvidence(spans []extraction.EvidenceSpan, note types.RawNote) []types.Evidence {
	out := make([]types.Evidence, 0, len(spans))
	for _, span := range spans {
		out = append(out, types.Evidence{
			RawNoteID:   note.ID,
			Quote:       span.Quote,
			StartOffset: span.StartOffset,
			EndOffset:   span.EndOffset,
			Permalink:   derivePermalink(note, span),
		})
	}
	return out
}

func derivePermalink(note types.RawNote, span extraction.EvidenceSpan) *string {
	switch note.Source {
	case types.SourceSlack:
		if p, ok := note.SourceMeta["permalink"].(string); ok && p != "" {
			return &p
		}
	case types.SourceObsidian:
		filePath, ok := note.SourceMeta["filePath"].(string)
		if !ok || filePath == "" {
			return nil
		}
		link := "file://" + filePath
		if span.StartOffset != nil {
			link = fmt.Sprintf("%s#%d", link, *span.StartOffset)
		}
		return &link
	}
	return nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// OrganizationResult materializes Phase B's output for one entity:
// project/epic/assignee suggestions at or above threshold are applied
// directly; below threshold they queue review items; a suggestion that
// is absent or carries no id is skipped.
// Duplicate candidates and epic proposals always queue review items —
// soft-deleting or creating structure is destructive enough that the
// confidence partition is deliberately overridden in favor of always
// requiring a human decision (see DESIGN.md).
func OrganizationResult(ctx context.Context, s *store.Store, entity types.Entity, result organization.Result, cfg Config) error {
	threshold := cfg.threshold()

	if f := result.SuggestedProject; f != nil && f.ID != nil {
		if f.Confidence >= threshold {
			id := *f.ID
			if _, err := s.PatchEntity(ctx, entity.ID, store.EntityPatch{ProjectID: ptrPtr(&id)}); err != nil {
				return err
			}
			entity.ProjectID = &id
		} else if _, err := s.CreateReviewItem(ctx, types.ReviewItem{
			EntityID: &entity.ID, ProjectID: entity.ProjectID, ReviewType: types.ReviewProjectAssignment,
			AISuggestion: map[string]any{"suggestedProjectId": f.ID.String()}, AIConfidence: f.Confidence,
		}); err != nil {
			return err
		}
	}

	if f := result.SuggestedEpic; f != nil && f.ID != nil && entity.ProjectID != nil {
		if f.Confidence >= threshold {
			id := *f.ID
			if _, err := s.PatchEntity(ctx, entity.ID, store.EntityPatch{EpicID: ptrPtr(&id)}); err != nil {
				return err
			}
		} else if _, err := s.CreateReviewItem(ctx, types.ReviewItem{
			EntityID: &entity.ID, ProjectID: entity.ProjectID, ReviewType: types.ReviewEpicAssignment,
			AISuggestion: map[string]any{"suggestedEpicId": f.ID.String()}, AIConfidence: f.Confidence,
		}); err != nil {
			return err
		}
	}

	if f := result.SuggestedAssignee; f != nil && f.ID != nil {
		if f.Confidence >= threshold {
			id := *f.ID
			if _, err := s.PatchEntity(ctx, entity.ID, store.EntityPatch{AssigneeID: ptrPtr(&id)}); err != nil {
				return err
			}
		} else if _, err := s.CreateReviewItem(ctx, types.ReviewItem{
			EntityID: &entity.ID, ProjectID: entity.ProjectID, ReviewType: types.ReviewAssigneeSuggestion,
			AISuggestion: map[string]any{"suggestedAssigneeId": f.ID.String()}, AIConfidence: f.Confidence,
		}); err != nil {
			return err
		}
	}

	for _, d := range result.DuplicateCandidates {
		if _, err := s.CreateReviewItem(ctx, types.ReviewItem{
			EntityID: &entity.ID, ProjectID: entity.ProjectID, ReviewType: types.ReviewDuplicateDetection,
			AISuggestion: map[string]any{"duplicateEntityId": d.EntityID.String(), "reason": d.Reason},
			AIConfidence: d.SimilarityScore,
		}); err != nil {
			return err
		}
	}

	for _, p := range result.EpicProposals {
		candidateIDs := make([]string, len(p.CandidateEntityIDs))
		for i, id := range p.CandidateEntityIDs {
			candidateIDs[i] = id.String()
		}
		suggestion := map[string]any{
			"name":               p.Name,
			"projectId":          p.ProjectID.String(),
			"candidateEntityIds": candidateIDs,
		}
		if p.Description != nil {
			suggestion["description"] = *p.Description
		}
		projectID := p.ProjectID
		if _, err := s.CreateReviewItem(ctx, types.ReviewItem{
			ProjectID: &projectID, ReviewType: types.ReviewEpicCreation,
			AISuggestion: suggestion, AIConfidence: p.Confidence,
		}); err != nil {
			return err
		}
	}

	return nil
}

func ptrPtr(p *uuid.UUID) **uuid.UUID { return &p }
