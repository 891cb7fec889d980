package review

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/pm/internal/store"
	"github.com/steveyegge/pm/internal/types"
)

// TrainingExample is the stable serialized form spec.md §4.7 asks for:
// one resolved review item's AI suggestion alongside the human
// resolution and free-text comment it was annotated with.
type TrainingExample struct {
	ReviewID        string         `json:"reviewId"`
	ReviewType      string         `json:"reviewType"`
	AISuggestion    map[string]any `json:"aiSuggestion"`
	AIConfidence    float64        `json:"aiConfidence"`
	Status          string         `json:"status"`
	UserResolution  map[string]any `json:"userResolution,omitempty"`
	TrainingComment string         `json:"trainingComment"`
	ResolvedAt      time.Time      `json:"resolvedAt"`
}

func toTrainingExample(r types.ReviewItem) TrainingExample {
	var comment string
	if r.TrainingComment != nil {
		comment = *r.TrainingComment
	}
	var resolvedAt time.Time
	if r.ResolvedAt != nil {
		resolvedAt = *r.ResolvedAt
	}
	return TrainingExample{
		ReviewID:        r.ID.String(),
		ReviewType:      string(r.ReviewType),
		AISuggestion:    r.AISuggestion,
		AIConfidence:    r.AIConfidence,
		Status:          string(r.Status),
		UserResolution:  r.UserResolution,
		TrainingComment: comment,
		ResolvedAt:      resolvedAt,
	}
}

// Exporter runs the review-queue:export-training-data job (spec.md
// §4.7): reads resolved items with a trainingComment over a time window
// and writes them as JSONL to outputPath, one example per line.
type Exporter struct {
	store      *store.Store
	outputPath string
}

// NewExporter builds an Exporter writing to outputPath.
func NewExporter(s *store.Store, outputPath string) *Exporter {
	return &Exporter{store: s, outputPath: outputPath}
}

// Export reads every trainingComment-bearing resolution in [since,
// until) and appends it to outputPath, written atomically via a temp
// file plus rename — the same pattern the teacher's sync-export uses
// for its JSONL snapshot (internal/rpc/server_sync.go).
func (e *Exporter) Export(ctx context.Context, since, until time.Time) (int, error) {
	items, err := e.store.ListResolvedWithTrainingComment(ctx, since, until)
	if err != nil {
		return 0, fmt.Errorf("export training data: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	existing, err := os.ReadFile(e.outputPath)
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("export training data: read existing: %w", err)
	}

	dir := filepath.Dir(e.outputPath)
	tempFile, err := os.CreateTemp(dir, filepath.Base(e.outputPath)+".tmp.*")
	if err != nil {
		return 0, fmt.Errorf("export training data: create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)
	}()

	if len(existing) > 0 {
		if _, err := tempFile.Write(existing); err != nil {
			return 0, fmt.Errorf("export training data: write existing: %w", err)
		}
	}

	encoder := json.NewEncoder(tempFile)
	for _, r := range items {
		if err := encoder.Encode(toTrainingExample(r)); err != nil {
			return 0, fmt.Errorf("export training data: encode review %s: %w", r.ID, err)
		}
	}

	if err := tempFile.Close(); err != nil {
		return 0, fmt.Errorf("export training data: close temp file: %w", err)
	}
	if err := os.Rename(tempPath, e.outputPath); err != nil {
		return 0, fmt.Errorf("export training data: replace output file: %w", err)
	}

	return len(items), nil
}
