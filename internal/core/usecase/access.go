package usecase

import (
	"context"
	"fmt"

	"github.com/aawaheed/datashare/internal/core/domain"
	"github.com/aawaheed/datashare/internal/core/ports"
)

// BatchAccessUseCase is the authorization-scoped read/mutate path over
// stored batches. Every call runs under the caller's identity; the
// repository enforces the owner/published visibility rule.
type BatchAccessUseCase struct {
	repo ports.BatchSearchRepository
}

func NewBatchAccessUseCase(repo ports.BatchSearchRepository) *BatchAccessUseCase {
	return &BatchAccessUseCase{repo: repo}
}

// ListRecords returns all batches visible to user. With a filter it returns
// the matching page plus the total number of matches.
func (uc *BatchAccessUseCase) ListRecords(ctx context.Context, user domain.User, filter *domain.WebQuery) ([]domain.BatchSearchRecord, int, error) {
	if filter != nil {
		if err := filter.Validate(); err != nil {
			return nil, 0, err
		}
	}
	records, total, err := uc.repo.GetRecords(ctx, user, user.Projects, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list batch records: %w", err)
	}
	return records, total, nil
}

// GetBatch loads one visible batch. With withQueries false the query set is
// omitted but NbQueries is still populated.
func (uc *BatchAccessUseCase) GetBatch(ctx context.Context, user domain.User, uuid string, withQueries bool) (*domain.BatchSearch, error) {
	batch, err := uc.repo.Get(ctx, user, uuid, withQueries)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return batch, nil
}

// GetQueries returns the ordered query/count pairs of a visible batch,
// windowed by from/size and optionally filtered by a search term.
func (uc *BatchAccessUseCase) GetQueries(ctx context.Context, user domain.User, uuid string, from, size int, search, orderBy string, maxResults int) ([]domain.QueryCount, error) {
	queries, err := uc.repo.GetQueries(ctx, user, uuid, from, size, search, orderBy, maxResults)
	if err != nil {
		return nil, fmt.Errorf("get batch queries: %w", err)
	}
	return queries, nil
}

// GetResults returns the stored results of a batch. Non-owners of an
// existing batch get domain.ErrUnauthorized, never domain.ErrNotFound.
func (uc *BatchAccessUseCase) GetResults(ctx context.Context, user domain.User, uuid string, filter domain.WebQuery) ([]domain.SearchResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	results, err := uc.repo.GetResults(ctx, user, uuid, filter)
	if err != nil {
		return nil, fmt.Errorf("get batch results: %w", err)
	}
	return results, nil
}

// Publish flips the published flag. A false return means the batch is
// absent or not owned by user; the two cases are deliberately not
// distinguishable by the caller.
func (uc *BatchAccessUseCase) Publish(ctx context.Context, user domain.User, uuid string, published bool) (bool, error) {
	updated, err := uc.repo.Publish(ctx, user, uuid, published)
	if err != nil {
		return false, fmt.Errorf("publish batch: %w", err)
	}
	return updated, nil
}

// Delete removes one of the caller's batches and its results. Idempotent;
// a RUNNING batch is left in place so in-flight results are not orphaned.
func (uc *BatchAccessUseCase) Delete(ctx context.Context, user domain.User, uuid string) error {
	if err := uc.repo.Delete(ctx, user, uuid); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return nil
}

// DeleteAll removes every non-running batch owned by user.
func (uc *BatchAccessUseCase) DeleteAll(ctx context.Context, user domain.User) error {
	if err := uc.repo.DeleteAll(ctx, user); err != nil {
		return fmt.Errorf("delete batches: %w", err)
	}
	return nil
}
