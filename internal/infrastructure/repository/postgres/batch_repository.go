package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/aawaheed/datashare/internal/core/domain"
)

// BatchSearchRepository stores batches, their canonical queries and their
// result rows. Read visibility: the owner always sees a batch, project
// members see it once published.
type BatchSearchRepository struct {
	db *sql.DB
}

func NewBatchSearchRepository(db *sql.DB) *BatchSearchRepository {
	return &BatchSearchRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *BatchSearchRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026032201)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS batch_search (
	uuid TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	user_id TEXT NOT NULL,
	projects JSONB NOT NULL DEFAULT '[]'::jsonb,
	published BOOLEAN NOT NULL DEFAULT FALSE,
	file_types JSONB NOT NULL DEFAULT '[]'::jsonb,
	paths JSONB NOT NULL DEFAULT '[]'::jsonb,
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	fuzziness INT NOT NULL DEFAULT 0,
	phrase_matches BOOLEAN NOT NULL DEFAULT FALSE,
	state TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	nb_queries INT NOT NULL DEFAULT 0,
	nb_results INT NOT NULL DEFAULT 0,
	batch_date TIMESTAMPTZ NOT NULL,
	end_date TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS batch_search_query (
	search_uuid TEXT NOT NULL REFERENCES batch_search(uuid) ON DELETE CASCADE,
	query TEXT NOT NULL,
	query_number INT NOT NULL,
	query_results INT NOT NULL DEFAULT 0,
	PRIMARY KEY (search_uuid, query)
);

CREATE TABLE IF NOT EXISTS batch_search_result (
	search_uuid TEXT NOT NULL REFERENCES batch_search(uuid) ON DELETE CASCADE,
	query TEXT NOT NULL,
	doc_id TEXT NOT NULL,
	root_id TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	content_length BIGINT NOT NULL DEFAULT 0,
	doc_path TEXT NOT NULL DEFAULT '',
	creation_date TIMESTAMPTZ,
	doc_nb INT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batch_search_user ON batch_search(user_id);
CREATE INDEX IF NOT EXISTS idx_batch_search_date ON batch_search(batch_date DESC);
CREATE INDEX IF NOT EXISTS idx_batch_search_result_uuid ON batch_search_result(search_uuid);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *BatchSearchRepository) Save(ctx context.Context, batch *domain.BatchSearch) error {
	projectsJSON, fileTypesJSON, pathsJSON, tagsJSON, err := marshalBatchLists(batch)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO batch_search (
	uuid, name, description, user_id, projects, published, file_types, paths, tags,
	fuzziness, phrase_matches, state, error_message, nb_queries, nb_results, batch_date, end_date
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`,
		batch.UUID, batch.Name, batch.Description, batch.User.ID, projectsJSON, batch.Published,
		fileTypesJSON, pathsJSON, tagsJSON, batch.Fuzziness, batch.PhraseMatch,
		string(batch.State), batch.ErrorMsg, batch.NbQueries, batch.NbResults, batch.BatchDate, batch.EndDate,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	for i, qc := range batch.Queries {
		_, err = tx.ExecContext(ctx, `
INSERT INTO batch_search_query (search_uuid, query, query_number, query_results)
VALUES ($1,$2,$3,$4)
`, batch.UUID, qc.Query, i, qc.Count)
		if err != nil {
			return fmt.Errorf("insert batch query %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}

// visibilityClause limits rows to batches the user may see. Argument
// numbering starts at base.
func visibilityClause(base int) string {
	return fmt.Sprintf("(user_id = $%d OR (published AND projects <@ $%d::jsonb))", base, base+1)
}

func visibilityArgs(user domain.User) (string, []byte) {
	projects := user.Projects
	if projects == nil {
		projects = []string{}
	}
	raw, _ := json.Marshal(projects)
	return user.ID, raw
}

func (r *BatchSearchRepository) Get(ctx context.Context, user domain.User, uuid string, withQueries bool) (*domain.BatchSearch, error) {
	userID, projectsJSON := visibilityArgs(user)
	row := r.db.QueryRowContext(ctx, `
SELECT uuid, name, description, user_id, projects, published, file_types, paths, tags,
	fuzziness, phrase_matches, state, error_message, nb_queries, nb_results, batch_date, end_date
FROM batch_search
WHERE uuid = $1 AND `+visibilityClause(2), uuid, userID, projectsJSON)

	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get batch", fmt.Errorf("uuid %s", uuid))
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}

	if withQueries {
		queries, err := r.queryCounts(ctx, uuid, 0, 0, "", "", -1)
		if err != nil {
			return nil, err
		}
		batch.Queries = queries
	}
	return batch, nil
}

// GetByUUID loads a batch for the worker without the visibility scope.
func (r *BatchSearchRepository) GetByUUID(ctx context.Context, uuid string, withQueries bool) (*domain.BatchSearch, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT uuid, name, description, user_id, projects, published, file_types, paths, tags,
	fuzziness, phrase_matches, state, error_message, nb_queries, nb_results, batch_date, end_date
FROM batch_search
WHERE uuid = $1`, uuid)

	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get batch", fmt.Errorf("uuid %s", uuid))
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}

	if withQueries {
		queries, err := r.queryCounts(ctx, uuid, 0, 0, "", "", -1)
		if err != nil {
			return nil, err
		}
		batch.Queries = queries
	}
	return batch, nil
}

func (r *BatchSearchRepository) GetRecords(ctx context.Context, user domain.User, projects []string, query *domain.WebQuery) ([]domain.BatchSearchRecord, int, error) {
	userID, projectsJSON := visibilityArgs(domain.User{ID: user.ID, Projects: projects})
	where := []string{visibilityClause(1)}
	args := []any{userID, projectsJSON}

	if query != nil {
		if query.Query != "" {
			args = append(args, "%"+query.Query+"%")
			where = append(where, fmt.Sprintf(
				"uuid IN (SELECT search_uuid FROM batch_search_query WHERE query ILIKE $%d)", len(args)))
		}
		if len(query.BatchDate) == 2 {
			args = append(args, query.BatchDate[0], query.BatchDate[1])
			where = append(where, fmt.Sprintf("batch_date BETWEEN $%d AND $%d", len(args)-1, len(args)))
		}
		if query.PublishState != nil {
			args = append(args, *query.PublishState)
			where = append(where, fmt.Sprintf("published = $%d", len(args)))
		}
	}
	condition := strings.Join(where, " AND ")

	var total int
	err := r.db.QueryRowContext(ctx,
		"SELECT count(*) FROM batch_search WHERE "+condition, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count batch records: %w", err)
	}

	stmt := `
SELECT uuid, name, user_id, projects, published, state, nb_queries, nb_results, batch_date, end_date
FROM batch_search
WHERE ` + condition + ` ORDER BY ` + recordOrder(query)
	if query != nil && query.Size > 0 {
		args = append(args, query.Size, query.From)
		stmt += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	} else if query != nil && query.From > 0 {
		args = append(args, query.From)
		stmt += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select batch records: %w", err)
	}
	defer rows.Close()

	var records []domain.BatchSearchRecord
	for rows.Next() {
		var rec domain.BatchSearchRecord
		var projectsRaw []byte
		var state string
		err := rows.Scan(&rec.UUID, &rec.Name, &rec.User.ID, &projectsRaw, &rec.Published,
			&state, &rec.NbQueries, &rec.NbResults, &rec.BatchDate, &rec.EndDate)
		if err != nil {
			return nil, 0, fmt.Errorf("scan batch record: %w", err)
		}
		if err := json.Unmarshal(projectsRaw, &rec.Projects); err != nil {
			return nil, 0, fmt.Errorf("unmarshal record projects: %w", err)
		}
		rec.State = domain.BatchState(state)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate batch records: %w", err)
	}
	return records, total, nil
}

// recordOrder whitelists sortable columns; anything else falls back to the
// submission date, newest first.
func recordOrder(query *domain.WebQuery) string {
	column := "batch_date"
	direction := "DESC"
	if query != nil {
		switch query.Sort {
		case "name", "nb_queries", "nb_results", "state", "batch_date":
			column = query.Sort
		}
		if strings.EqualFold(query.Order, "asc") {
			direction = "ASC"
		}
	}
	return column + " " + direction
}

func (r *BatchSearchRepository) GetQueries(ctx context.Context, user domain.User, uuid string, from, size int, search, orderBy string, maxResults int) ([]domain.QueryCount, error) {
	if _, err := r.Get(ctx, user, uuid, false); err != nil {
		return nil, err
	}
	return r.queryCounts(ctx, uuid, from, size, search, orderBy, maxResults)
}

func (r *BatchSearchRepository) queryCounts(ctx context.Context, uuid string, from, size int, search, orderBy string, maxResults int) ([]domain.QueryCount, error) {
	where := []string{"search_uuid = $1"}
	args := []any{uuid}
	if search != "" {
		args = append(args, "%"+search+"%")
		where = append(where, fmt.Sprintf("query ILIKE $%d", len(args)))
	}
	if maxResults >= 0 {
		args = append(args, maxResults)
		where = append(where, fmt.Sprintf("query_results <= $%d", len(args)))
	}

	order := "query_number"
	if orderBy == "query" || orderBy == "query_results" {
		order = orderBy
	}

	stmt := `SELECT query, query_results FROM batch_search_query WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY ` + order
	if size > 0 {
		args = append(args, size, from)
		stmt += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	} else if from > 0 {
		args = append(args, from)
		stmt += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select batch queries: %w", err)
	}
	defer rows.Close()

	var queries []domain.QueryCount
	for rows.Next() {
		var qc domain.QueryCount
		if err := rows.Scan(&qc.Query, &qc.Count); err != nil {
			return nil, fmt.Errorf("scan batch query: %w", err)
		}
		queries = append(queries, qc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch queries: %w", err)
	}
	return queries, nil
}

// resultOrder whitelists sortable result columns; anything else falls back
// to the read order of the execution. doc_nb stays as tiebreaker so pages
// are stable.
func resultOrder(query domain.WebQuery) string {
	column := ""
	switch query.Sort {
	case "query", "doc_id", "content_type", "content_length", "doc_path", "creation_date", "doc_nb":
		column = query.Sort
	}
	if column == "" {
		return "query, doc_nb"
	}
	direction := "DESC"
	if strings.EqualFold(query.Order, "asc") || query.Order == "" {
		direction = "ASC"
	}
	return column + " " + direction + ", doc_nb"
}

func (r *BatchSearchRepository) GetResults(ctx context.Context, user domain.User, uuid string, query domain.WebQuery) ([]domain.SearchResult, error) {
	var ownerID string
	var published bool
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, published FROM batch_search WHERE uuid = $1`, uuid).
		Scan(&ownerID, &published)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get results", fmt.Errorf("uuid %s", uuid))
		}
		return nil, fmt.Errorf("check batch owner: %w", err)
	}
	// The batch exists: a non-owner gets an ownership denial, not a 404.
	if ownerID != user.ID && !published {
		return nil, domain.WrapError(domain.ErrUnauthorized, "get results",
			fmt.Errorf("user %s does not own batch %s", user.ID, uuid))
	}

	where := []string{"search_uuid = $1"}
	args := []any{uuid}
	if query.Query != "" {
		args = append(args, "%"+query.Query+"%")
		where = append(where, fmt.Sprintf("query ILIKE $%d", len(args)))
	}

	stmt := `
SELECT query, doc_id, root_id, content_type, content_length, doc_path, creation_date, doc_nb
FROM batch_search_result
WHERE ` + strings.Join(where, " AND ") + ` ORDER BY ` + resultOrder(query)
	if query.Size > 0 {
		args = append(args, query.Size, query.From)
		stmt += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	} else if query.From > 0 {
		args = append(args, query.From)
		stmt += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select batch results: %w", err)
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var res domain.SearchResult
		var creation sql.NullTime
		err := rows.Scan(&res.Query, &res.DocumentID, &res.RootID, &res.ContentType,
			&res.ContentLength, &res.DocumentPath, &creation, &res.DocumentNumber)
		if err != nil {
			return nil, fmt.Errorf("scan batch result: %w", err)
		}
		if creation.Valid {
			res.CreationDate = creation.Time
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch results: %w", err)
	}
	return results, nil
}

func (r *BatchSearchRepository) Publish(ctx context.Context, user domain.User, uuid string, published bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE batch_search SET published = $3 WHERE uuid = $1 AND user_id = $2
`, uuid, user.ID, published)
	if err != nil {
		return false, fmt.Errorf("publish batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("publish rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *BatchSearchRepository) Delete(ctx context.Context, user domain.User, uuid string) error {
	// Running batches are kept so in-flight results are not orphaned.
	_, err := r.db.ExecContext(ctx, `
DELETE FROM batch_search WHERE uuid = $1 AND user_id = $2 AND state <> 'RUNNING'
`, uuid, user.ID)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return nil
}

func (r *BatchSearchRepository) DeleteAll(ctx context.Context, user domain.User) error {
	_, err := r.db.ExecContext(ctx, `
DELETE FROM batch_search WHERE user_id = $1 AND state <> 'RUNNING'
`, user.ID)
	if err != nil {
		return fmt.Errorf("delete batches: %w", err)
	}
	return nil
}

func (r *BatchSearchRepository) SetState(ctx context.Context, uuid string, state domain.BatchState, errorMsg string) error {
	var endDate any
	if state.Terminal() {
		endDate = time.Now().UTC()
	}
	// Terminal states are immutable.
	res, err := r.db.ExecContext(ctx, `
UPDATE batch_search SET state = $2, error_message = $3, end_date = $4
WHERE uuid = $1 AND state NOT IN ('SUCCESS','FAILURE')
`, uuid, string(state), errorMsg, endDate)
	if err != nil {
		return fmt.Errorf("set batch state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("state rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "set batch state",
			fmt.Errorf("batch %s absent or terminal", uuid))
	}
	return nil
}

func (r *BatchSearchRepository) SaveResults(ctx context.Context, uuid, query string, results []domain.SearchResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin results tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, res := range results {
		_, err := tx.ExecContext(ctx, `
INSERT INTO batch_search_result (search_uuid, query, doc_id, root_id, content_type, content_length, doc_path, creation_date, doc_nb)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, uuid, query, res.DocumentID, res.RootID, res.ContentType, res.ContentLength,
			res.DocumentPath, nullableTime(res.CreationDate), res.DocumentNumber)
		if err != nil {
			return fmt.Errorf("insert result %d: %w", res.DocumentNumber, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
UPDATE batch_search_query SET query_results = query_results + $3
WHERE search_uuid = $1 AND query = $2
`, uuid, query, len(results))
	if err != nil {
		return fmt.Errorf("update query count: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
UPDATE batch_search SET nb_results = nb_results + $2 WHERE uuid = $1
`, uuid, len(results))
	if err != nil {
		return fmt.Errorf("update batch result count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit results tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*domain.BatchSearch, error) {
	var batch domain.BatchSearch
	var projectsRaw, fileTypesRaw, pathsRaw, tagsRaw []byte
	var state string

	err := row.Scan(&batch.UUID, &batch.Name, &batch.Description, &batch.User.ID,
		&projectsRaw, &batch.Published, &fileTypesRaw, &pathsRaw, &tagsRaw,
		&batch.Fuzziness, &batch.PhraseMatch, &state, &batch.ErrorMsg,
		&batch.NbQueries, &batch.NbResults, &batch.BatchDate, &batch.EndDate)
	if err != nil {
		return nil, err
	}

	for _, pair := range []struct {
		raw []byte
		out *[]string
	}{
		{projectsRaw, &batch.Projects},
		{fileTypesRaw, &batch.FileTypes},
		{pathsRaw, &batch.Paths},
		{tagsRaw, &batch.Tags},
	} {
		if err := json.Unmarshal(pair.raw, pair.out); err != nil {
			return nil, fmt.Errorf("unmarshal batch list: %w", err)
		}
	}
	batch.State = domain.BatchState(state)
	return &batch, nil
}

func marshalBatchLists(batch *domain.BatchSearch) ([]byte, []byte, []byte, []byte, error) {
	marshal := func(list []string) ([]byte, error) {
		if list == nil {
			list = []string{}
		}
		return json.Marshal(list)
	}
	projectsJSON, err := marshal(batch.Projects)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal projects: %w", err)
	}
	fileTypesJSON, err := marshal(batch.FileTypes)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal file types: %w", err)
	}
	pathsJSON, err := marshal(batch.Paths)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal paths: %w", err)
	}
	tagsJSON, err := marshal(batch.Tags)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal tags: %w", err)
	}
	return projectsJSON, fileTypesJSON, pathsJSON, tagsJSON, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
