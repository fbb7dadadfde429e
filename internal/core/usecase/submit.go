package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aawaheed/datashare/internal/core/domain"
	"github.com/aawaheed/datashare/internal/core/ports"
)

// DefaultMaxBatchQueries caps the canonical query set, checked after
// deduplication so duplicate-heavy uploads are not rejected spuriously.
const DefaultMaxBatchQueries = 60000

// SubmitBatchUseCase admits batch submissions: canonicalize, validate,
// persist, then enqueue. Nothing is enqueued unless the save succeeded.
type SubmitBatchUseCase struct {
	repo       ports.BatchSearchRepository
	queue      ports.BatchQueue
	maxQueries int
}

func NewSubmitBatchUseCase(repo ports.BatchSearchRepository, queue ports.BatchQueue, maxQueries int) *SubmitBatchUseCase {
	if maxQueries <= 0 {
		maxQueries = DefaultMaxBatchQueries
	}
	return &SubmitBatchUseCase{
		repo:       repo,
		queue:      queue,
		maxQueries: maxQueries,
	}
}

// SubmitRequest carries the multipart fields of a submission. RawQueries is
// the uploaded file content, newline-delimited.
type SubmitRequest struct {
	Name        string
	Description string
	RawQueries  string
	Projects    []string
	Published   bool
	FileTypes   []string
	Paths       []string
	Tags        []string
	Fuzziness   int
	PhraseMatch bool
}

func (uc *SubmitBatchUseCase) Submit(ctx context.Context, user domain.User, req SubmitRequest) (*domain.BatchSearch, error) {
	if strings.TrimSpace(req.Name) == "" || req.RawQueries == "" {
		return nil, domain.WrapError(domain.ErrInvalidRequest, "submit batch", errors.New("name and query file are required"))
	}
	if len(req.Projects) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidRequest, "submit batch", errors.New("at least one project is required"))
	}

	queries := domain.CanonicalizeQueries(req.RawQueries, req.PhraseMatch)
	if len(queries) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidRequest, "submit batch", errors.New("no query longer than one character"))
	}
	if len(queries) >= uc.maxQueries {
		return nil, domain.WrapError(domain.ErrPayloadTooLarge, "submit batch",
			fmt.Errorf("%d queries, maximum is %d", len(queries), uc.maxQueries))
	}

	batch := newBatchSearch(user, req, queries)
	return batch, uc.saveAndEnqueue(ctx, batch)
}

// Copy creates a new batch from a visible source batch, inheriting scope,
// options and queries, with name/description overridden, and enqueues it
// exactly like a fresh submission.
func (uc *SubmitBatchUseCase) Copy(ctx context.Context, user domain.User, sourceUUID string, overrides map[string]string) (*domain.BatchSearch, error) {
	source, err := uc.repo.Get(ctx, user, sourceUUID, true)
	if err != nil {
		return nil, fmt.Errorf("load source batch: %w", err)
	}

	copied := *source
	copied.UUID = uuid.NewString()
	copied.User = user
	copied.State = domain.StateQueued
	copied.NbResults = 0
	copied.ErrorMsg = ""
	copied.BatchDate = time.Now().UTC()
	copied.EndDate = nil
	copied.Queries = resetCounts(source.Queries)
	if name, ok := overrides["name"]; ok {
		copied.Name = name
	}
	if description, ok := overrides["description"]; ok {
		copied.Description = description
	}

	return &copied, uc.saveAndEnqueue(ctx, &copied)
}

func (uc *SubmitBatchUseCase) saveAndEnqueue(ctx context.Context, batch *domain.BatchSearch) error {
	if err := uc.repo.Save(ctx, batch); err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	if err := uc.queue.Put(ctx, batch.UUID); err != nil {
		return fmt.Errorf("enqueue batch: %w", err)
	}
	return nil
}

func newBatchSearch(user domain.User, req SubmitRequest, queries []string) *domain.BatchSearch {
	counts := make([]domain.QueryCount, len(queries))
	for i, query := range queries {
		counts[i] = domain.QueryCount{Query: query}
	}
	return &domain.BatchSearch{
		UUID:        uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		User:        user,
		Projects:    req.Projects,
		Queries:     counts,
		NbQueries:   len(counts),
		Published:   req.Published,
		FileTypes:   req.FileTypes,
		Paths:       req.Paths,
		Tags:        req.Tags,
		Fuzziness:   req.Fuzziness,
		PhraseMatch: req.PhraseMatch,
		State:       domain.StateQueued,
		BatchDate:   time.Now().UTC(),
	}
}

func resetCounts(queries []domain.QueryCount) []domain.QueryCount {
	reset := make([]domain.QueryCount, len(queries))
	for i, qc := range queries {
		reset[i] = domain.QueryCount{Query: qc.Query}
	}
	return reset
}
