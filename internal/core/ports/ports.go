package ports

import (
	"context"

	"github.com/aawaheed/datashare/internal/core/domain"
)

// BatchSearchRepository is the durable store for batch metadata, queries and
// result rows. Every read is scoped by the calling identity: a batch is
// visible to its owner, and to project members when published.
type BatchSearchRepository interface {
	Save(ctx context.Context, batch *domain.BatchSearch) error
	Get(ctx context.Context, user domain.User, uuid string, withQueries bool) (*domain.BatchSearch, error)
	GetRecords(ctx context.Context, user domain.User, projects []string, query *domain.WebQuery) ([]domain.BatchSearchRecord, int, error)
	GetQueries(ctx context.Context, user domain.User, uuid string, from, size int, search, orderBy string, maxResults int) ([]domain.QueryCount, error)
	// GetResults returns domain.ErrUnauthorized when the batch exists but is
	// not owned by user, distinct from domain.ErrNotFound.
	GetResults(ctx context.Context, user domain.User, uuid string, query domain.WebQuery) ([]domain.SearchResult, error)
	Publish(ctx context.Context, user domain.User, uuid string, published bool) (bool, error)
	// Delete is idempotent and leaves RUNNING batches in place.
	Delete(ctx context.Context, user domain.User, uuid string) error
	DeleteAll(ctx context.Context, user domain.User) error

	// Worker-side operations. GetByUUID reads without the identity scope:
	// the worker must load any queued batch, published or not. It never
	// serves caller-facing reads.
	GetByUUID(ctx context.Context, uuid string, withQueries bool) (*domain.BatchSearch, error)
	SetState(ctx context.Context, uuid string, state domain.BatchState, errorMsg string) error
	SaveResults(ctx context.Context, uuid, query string, results []domain.SearchResult) error
}

// BatchQueue is a FIFO channel of identifiers shared by all submission
// paths. Put may block under backpressure.
type BatchQueue interface {
	Put(ctx context.Context, uuid string) error
	Name() string
}

// BatchConsumer is the worker side of the queue pairing. Delivery is
// at-least-once; handlers must tolerate duplicate identifiers.
type BatchConsumer interface {
	Subscribe(ctx context.Context, handler func(context.Context, string) error) error
}

// ScrollQuery describes one cursor opening against the index. Either Query
// runs as a search-string query with the batch options, or WithoutTag
// selects documents still lacking a processing tag.
type ScrollQuery struct {
	Projects    []string
	Query       string
	Fuzziness   int
	PhraseMatch bool
	FileTypes   []string
	Paths       []string

	WithoutTag   string
	SourceFields []string
}

// Cursor is a server-side scroll over one ordered result set. The total hit
// count is fixed at open time. Next calls must be sequential; an empty page
// signals exhaustion. Close releases the server-side context.
type Cursor interface {
	TotalHits() int64
	Next(ctx context.Context) ([]domain.DocumentHit, error)
	Close(ctx context.Context) error
}

// Indexer opens cursors against the document index.
type Indexer interface {
	OpenScroll(ctx context.Context, query ScrollQuery) (Cursor, error)
}
