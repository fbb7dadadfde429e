package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aawaheed/datashare/internal/core/domain"
	"github.com/aawaheed/datashare/internal/core/ports"
)

// ResumeScanUseCase enumerates every indexed document still lacking a
// processing tag and pushes its identifier onto a destination queue. The
// index is only readable through a bounded scroll cursor; the loop fetches
// pages until one comes back empty. Re-running is safe: processed documents
// drop out of the predicate, still-queued ones are enumerated again, so
// consumers must process identifiers idempotently.
type ResumeScanUseCase struct {
	indexer ports.Indexer
	queue   ports.BatchQueue
}

func NewResumeScanUseCase(indexer ports.Indexer, queue ports.BatchQueue) *ResumeScanUseCase {
	return &ResumeScanUseCase{
		indexer: indexer,
		queue:   queue,
	}
}

// Run scans project for documents without tag and enqueues their
// identifiers. It returns the total hit count snapshotted at cursor open;
// under the snapshot assumption that equals the number of ids enqueued.
// Cancellation is honored between pages.
func (uc *ResumeScanUseCase) Run(ctx context.Context, project, tag string) (int64, error) {
	cursor, err := uc.indexer.OpenScroll(ctx, ports.ScrollQuery{
		Projects:     []string{project},
		WithoutTag:   tag,
		SourceFields: []string{"rootDocument"},
	})
	if err != nil {
		return 0, fmt.Errorf("open scan cursor: %w", err)
	}
	// The scroll context is released on every exit path, including errors;
	// a failed clear only loses a server-side context until it expires.
	defer func() {
		if closeErr := cursor.Close(context.WithoutCancel(ctx)); closeErr != nil {
			slog.Warn("clear scan cursor failed", "project", project, "error", closeErr)
		}
	}()

	total := cursor.TotalHits()
	slog.Info("resuming scan", "project", project, "tag", tag, "total_hits", total)

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		hits, err := cursor.Next(ctx)
		if err != nil {
			return total, fmt.Errorf("scan page: %w", err)
		}
		if len(hits) == 0 {
			break
		}
		if err := uc.enqueue(ctx, hits); err != nil {
			return total, err
		}
	}

	slog.Info("scan enqueued", "queue", uc.queue.Name(), "project", project, "tag", tag, "total_hits", total)
	return total, nil
}

func (uc *ResumeScanUseCase) enqueue(ctx context.Context, hits []domain.DocumentHit) error {
	for _, hit := range hits {
		if err := uc.queue.Put(ctx, hit.ID); err != nil {
			return fmt.Errorf("enqueue document %s: %w", hit.ID, err)
		}
	}
	return nil
}
