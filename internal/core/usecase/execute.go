package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aawaheed/datashare/internal/core/domain"
	"github.com/aawaheed/datashare/internal/core/ports"
)

// ExecuteBatchUseCase is the worker side of the batch lifecycle: it runs
// each canonical query of a dequeued batch against the index and writes
// results back through the repository. Terminal states are set exactly once
// per invocation; a duplicate delivery of an already terminal batch is a
// no-op at the repository level.
type ExecuteBatchUseCase struct {
	repo    ports.BatchSearchRepository
	indexer ports.Indexer
}

func NewExecuteBatchUseCase(repo ports.BatchSearchRepository, indexer ports.Indexer) *ExecuteBatchUseCase {
	return &ExecuteBatchUseCase{
		repo:    repo,
		indexer: indexer,
	}
}

func (uc *ExecuteBatchUseCase) ExecuteByUUID(ctx context.Context, uuid string) error {
	// Unscoped read: ownership and publication never gate execution.
	batch, err := uc.repo.GetByUUID(ctx, uuid, true)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}
	if batch.State.Terminal() {
		slog.Info("batch already terminal, skipping", "batch", uuid, "state", batch.State)
		return nil
	}

	if err := uc.repo.SetState(ctx, uuid, domain.StateRunning, ""); err != nil {
		return fmt.Errorf("set state=running: %w", err)
	}

	if err := uc.runQueries(ctx, batch); err != nil {
		if failErr := uc.repo.SetState(ctx, uuid, domain.StateFailure, err.Error()); failErr != nil {
			return fmt.Errorf("%w; mark failure state: %v", err, failErr)
		}
		return err
	}

	if err := uc.repo.SetState(ctx, uuid, domain.StateSuccess, ""); err != nil {
		return fmt.Errorf("set state=success: %w", err)
	}
	return nil
}

func (uc *ExecuteBatchUseCase) runQueries(ctx context.Context, batch *domain.BatchSearch) error {
	for _, qc := range batch.Queries {
		if err := ctx.Err(); err != nil {
			return err
		}
		count, err := uc.runOne(ctx, batch, qc.Query)
		if err != nil {
			return fmt.Errorf("query %q: %w", qc.Query, err)
		}
		slog.Info("batch query executed", "batch", batch.UUID, "query", qc.Query, "results", count)
	}
	return nil
}

func (uc *ExecuteBatchUseCase) runOne(ctx context.Context, batch *domain.BatchSearch, query string) (int, error) {
	cursor, err := uc.indexer.OpenScroll(ctx, ports.ScrollQuery{
		Projects:    batch.Projects,
		Query:       query,
		Fuzziness:   batch.Fuzziness,
		PhraseMatch: batch.PhraseMatch,
		FileTypes:   batch.FileTypes,
		Paths:       batch.Paths,
	})
	if err != nil {
		return 0, fmt.Errorf("open scroll: %w", err)
	}
	defer func() {
		if closeErr := cursor.Close(context.WithoutCancel(ctx)); closeErr != nil {
			slog.Warn("clear scroll failed", "batch", batch.UUID, "error", closeErr)
		}
	}()

	number := 0
	for {
		hits, err := cursor.Next(ctx)
		if err != nil {
			return number, fmt.Errorf("scroll page: %w", err)
		}
		if len(hits) == 0 {
			return number, nil
		}

		results := make([]domain.SearchResult, len(hits))
		for i, hit := range hits {
			results[i] = domain.SearchResult{
				Query:          query,
				DocumentID:     hit.ID,
				RootID:         hit.RootID,
				ContentType:    hit.ContentType,
				ContentLength:  hit.ContentLength,
				DocumentPath:   hit.Path,
				CreationDate:   hit.CreationDate,
				DocumentNumber: number + i,
			}
		}
		if err := uc.repo.SaveResults(ctx, batch.UUID, query, results); err != nil {
			return number, fmt.Errorf("save results: %w", err)
		}
		number += len(hits)
	}
}
