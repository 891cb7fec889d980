package review

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/steveyegge/pm/internal/types"
)

func TestToTrainingExample_CopiesResolvedFields(t *testing.T) {
	comment := "good catch, was actually a decision"
	resolvedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entityID := uuid.New()

	r := types.ReviewItem{
		ID:              uuid.New(),
		EntityID:        &entityID,
		ReviewType:      types.ReviewTypeClassification,
		Status:          types.ReviewModified,
		AISuggestion:    map[string]any{"suggestedType": "task"},
		AIConfidence:    0.6,
		UserResolution:  map[string]any{"suggestedType": "decision"},
		TrainingComment: &comment,
		ResolvedAt:      &resolvedAt,
	}

	ex := toTrainingExample(r)
	assert.Equal(t, r.ID.String(), ex.ReviewID)
	assert.Equal(t, "type_classification", ex.ReviewType)
	assert.Equal(t, "modified", ex.Status)
	assert.Equal(t, comment, ex.TrainingComment)
	assert.Equal(t, resolvedAt, ex.ResolvedAt)
	assert.Equal(t, "decision", ex.UserResolution["suggestedType"])
}

func TestToTrainingExample_NilCommentAndResolvedAt(t *testing.T) {
	r := types.ReviewItem{
		ID:         uuid.New(),
		ReviewType: types.ReviewLowConfidence,
		Status:     types.ReviewAccepted,
	}

	ex := toTrainingExample(r)
	assert.Equal(t, "", ex.TrainingComment)
	assert.True(t, ex.ResolvedAt.IsZero())
}
