// Package pipeline registers the two LLM stages (C4 extraction, C5
// organization) as internal/jobs.Handlers on the notes:extract and
// entities:organize queues, implementing spec.md §4's data flow: a
// captured note is queued for extraction; materializing its entities
// queues one organization job per entity; materializing that result
// completes the pipeline. Grounded on the teacher's single-purpose
// session worker (codeready-toolchain-tarsy) in the same way
// internal/jobs itself is, since the teacher has no generic queue of
// its own to adapt directly.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/steveyegge/pm/internal/apierrors"
	"github.com/steveyegge/pm/internal/extraction"
	"github.com/steveyegge/pm/internal/jobs"
	"github.com/steveyegge/pm/internal/llm"
	"github.com/steveyegge/pm/internal/materialize"
	"github.com/steveyegge/pm/internal/organization"
	"github.com/steveyegge/pm/internal/store"
	"github.com/steveyegge/pm/internal/types"
)

// Queue names referenced by spec.md §4.3's required-queue list.
const (
	QueueNotesExtract      = "notes:extract"
	QueueEntitiesOrganize  = "entities:organize"
	QueueNotesReprocess    = "notes:reprocess"
	QueueComputeEmbeddings = "entities:compute-embeddings"
)

// Per-queue concurrency defaults (spec.md §5). entities:compute-embeddings
// has no named default since it's a documented no-op handler; it gets a
// small cap rather than JobConcurrency's general-purpose default so an
// unexpectedly large backlog there can't crowd out the real stages.
const (
	ConcurrencyExtract    = 5
	ConcurrencyOrganize   = 5
	ConcurrencyReprocess  = 2
	ConcurrencyEmbeddings = 2
)

// contextBatchSize bounds how many candidate projects/epics/entities/
// users the organization stage is shown (spec.md §4.5: "a bounded
// context batch, not the entire corpus").
const contextBatchSize = 50

// Config tunes the two LLM stages and the materializer they share.
type Config struct {
	Extraction   extraction.Config
	Organization organization.Config
	Materialize  materialize.Config
}

// Pipeline wires a store, a job queue, and an LLM client into the
// extraction -> materialize -> organization -> materialize chain.
type Pipeline struct {
	store *store.Store
	jobs  *jobs.Store
	llm   *llm.Client
	cfg   Config
}

// New constructs a Pipeline. Register it with a jobs.Runner via Register.
func New(s *store.Store, j *jobs.Store, client *llm.Client, cfg Config) *Pipeline {
	return &Pipeline{store: s, jobs: j, llm: client, cfg: cfg}
}

// Register binds every pipeline handler to r, each under its own
// per-queue concurrency cap (spec.md §5). Call before r.Run.
func (p *Pipeline) Register(r *jobs.Runner) {
	r.Register(QueueNotesExtract, ConcurrencyExtract, p.extractNote)
	r.Register(QueueEntitiesOrganize, ConcurrencyOrganize, p.organizeEntity)
	r.Register(QueueNotesReprocess, ConcurrencyReprocess, p.extractNote)
	r.Register(QueueComputeEmbeddings, ConcurrencyEmbeddings, p.computeEmbeddings)
}

type extractPayload struct {
	NoteID uuid.UUID `json:"noteId"`
}

type organizePayload struct {
	EntityID uuid.UUID `json:"entityId"`
}

// EnqueueExtraction submits the notes:extract job for a just-captured
// note, deduped on the note's own id so a re-delivered capture request
// never double-queues extraction for the same note.
func (p *Pipeline) EnqueueExtraction(ctx context.Context, noteID uuid.UUID) error {
	jobKey := "note:" + noteID.String()
	_, err := p.jobs.Enqueue(ctx, jobs.Enqueue{
		Queue:   QueueNotesExtract,
		JobKey:  &jobKey,
		Payload: extractPayload{NoteID: noteID},
	})
	return err
}

// EnqueueReprocess submits POST /notes/:id/reprocess's notes:reprocess
// job. It shares extractNote's handler since reprocessing a note is
// extraction run again over its unchanged content; the jobKey carries
// both the note id and requestID, so each distinct request for the same
// note is queued while a repeat of one requestID is deduplicated.
func (p *Pipeline) EnqueueReprocess(ctx context.Context, noteID uuid.UUID, requestID string) error {
	jobKey := "reprocess:" + noteID.String() + ":" + requestID
	_, err := p.jobs.Enqueue(ctx, jobs.Enqueue{
		Queue:   QueueNotesReprocess,
		JobKey:  &jobKey,
		Payload: extractPayload{NoteID: noteID},
	})
	return err
}

// computeEmbeddings is a deliberately minimal handler for the required
// entities:compute-embeddings queue: vector similarity at scale is an
// explicit Non-goal (spec.md §1, SPEC_FULL.md Resolved Open Question 3),
// so this handler only acknowledges the job rather than computing or
// storing anything, keeping the queue name real without building the
// feature it would back.
func (p *Pipeline) computeEmbeddings(ctx context.Context, job jobs.Job) (jobs.Outcome, error) {
	return jobs.OutcomeSuccess, nil
}

func (p *Pipeline) extractNote(ctx context.Context, job jobs.Job) (jobs.Outcome, error) {
	var payload extractPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return jobs.OutcomeFatal, fmt.Errorf("pipeline: decode extract payload: %w", err)
	}

	note, err := p.store.GetNote(ctx, payload.NoteID)
	if err != nil {
		if apierrors.CodeOf(err) == apierrors.CodeNotFound {
			return jobs.OutcomeFatal, err
		}
		return jobs.OutcomeRetry, err
	}

	result, err := extraction.Extract(ctx, p.llm, p.cfg.Extraction, extraction.Input{
		Content:    note.Content,
		Source:     note.Source,
		CapturedAt: note.CapturedAt.Format("2006-01-02T15:04:05Z07:00"),
		SourceMeta: note.SourceMeta,
	})
	if err != nil {
		if apierrors.IsRetryable(err) {
			return jobs.OutcomeRetry, err
		}
		return jobs.OutcomeFatal, err
	}

	entityIDs, err := materialize.ExtractionResult(ctx, p.store, note, result, p.cfg.Materialize)
	if err != nil {
		return jobs.OutcomeRetry, err
	}

	if err := p.store.MarkNoteProcessed(ctx, note.ID, entityIDs); err != nil {
		return jobs.OutcomeRetry, err
	}

	for _, id := range entityIDs {
		jobKey := "entity:" + id.String()
		if _, err := p.jobs.Enqueue(ctx, jobs.Enqueue{
			Queue:   QueueEntitiesOrganize,
			JobKey:  &jobKey,
			Payload: organizePayload{EntityID: id},
		}); err != nil {
			return jobs.OutcomeRetry, err
		}
	}

	return jobs.OutcomeSuccess, nil
}

func (p *Pipeline) organizeEntity(ctx context.Context, job jobs.Job) (jobs.Outcome, error) {
	var payload organizePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return jobs.OutcomeFatal, fmt.Errorf("pipeline: decode organize payload: %w", err)
	}

	entity, err := p.store.GetEntity(ctx, payload.EntityID)
	if err != nil {
		if apierrors.CodeOf(err) == apierrors.CodeNotFound {
			return jobs.OutcomeFatal, err
		}
		return jobs.OutcomeRetry, err
	}

	in, err := p.buildOrganizationInput(ctx, entity)
	if err != nil {
		return jobs.OutcomeRetry, err
	}

	result, err := organization.Organize(ctx, p.llm, p.cfg.Organization, in)
	if err != nil {
		if apierrors.IsRetryable(err) {
			return jobs.OutcomeRetry, err
		}
		return jobs.OutcomeFatal, err
	}

	if err := materialize.OrganizationResult(ctx, p.store, entity, result, p.cfg.Materialize); err != nil {
		return jobs.OutcomeRetry, err
	}

	return jobs.OutcomeSuccess, nil
}

// buildOrganizationInput gathers the bounded context batches the
// organization stage is allowed to choose from: active projects, their
// open epics, recently captured entities (same project when known, else
// the global recent set), and all users as assignee candidates.
func (p *Pipeline) buildOrganizationInput(ctx context.Context, entity types.Entity) (organization.Input, error) {
	projectPage, err := p.store.ListProjects(ctx, contextBatchSize, nil)
	if err != nil {
		return organization.Input{}, err
	}

	var activeProjects []organization.ProjectSummary
	var epics []organization.EpicSummary
	for _, proj := range projectPage.Items {
		if proj.Status != types.ProjectActive {
			continue
		}
		activeProjects = append(activeProjects, organization.ProjectSummary{ID: proj.ID, Name: proj.Name, Description: proj.Description})

		epicPage, err := p.store.ListEpics(ctx, proj.ID, contextBatchSize, nil)
		if err != nil {
			return organization.Input{}, err
		}
		for _, e := range epicPage.Items {
			epics = append(epics, organization.EpicSummary{ID: e.ID, ProjectID: e.ProjectID, Name: e.Name})
		}
	}

	entityPage, err := p.store.ListEntities(ctx, entity.ProjectID, contextBatchSize, nil)
	if err != nil {
		return organization.Input{}, err
	}
	var recent []organization.EntitySummary
	for _, e := range entityPage.Items {
		if e.ID == entity.ID {
			continue
		}
		recent = append(recent, organization.EntitySummary{ID: e.ID, Type: e.Type, Content: e.Content})
	}

	users, err := p.store.ListUsers(ctx)
	if err != nil {
		return organization.Input{}, err
	}
	var userSummaries []organization.UserSummary
	for _, u := range users {
		userSummaries = append(userSummaries, organization.UserSummary{ID: u.ID, Name: u.Name})
	}

	return organization.Input{
		Entity:         entity,
		ActiveProjects: activeProjects,
		OpenEpics:      epics,
		RecentEntities: recent,
		Users:          userSummaries,
	}, nil
}
