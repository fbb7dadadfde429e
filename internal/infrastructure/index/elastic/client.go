package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aawaheed/datashare/internal/core/domain"
	"github.com/aawaheed/datashare/internal/core/ports"
	"github.com/aawaheed/datashare/internal/infrastructure/resilience"
)

// Client talks to an Elasticsearch-compatible index over its REST scroll
// API. One Client is safe for concurrent use; individual cursors are not.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pageSize   int
	keepAlive  string
	executor   *resilience.Executor
}

type Options struct {
	PageSize           int
	KeepAlive          time.Duration
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL string, options Options) *Client {
	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	keepAlive := options.KeepAlive
	if keepAlive <= 0 {
		keepAlive = time.Minute
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		pageSize:   pageSize,
		keepAlive:  fmt.Sprintf("%ds", int(keepAlive.Seconds())),
		executor:   options.ResilienceExecutor,
	}
}

func (c *Client) OpenScroll(ctx context.Context, query ports.ScrollQuery) (ports.Cursor, error) {
	if len(query.Projects) == 0 {
		return nil, fmt.Errorf("open scroll: at least one project index is required")
	}

	body := map[string]any{
		"size":  c.pageSize,
		"query": buildQuery(query),
	}
	if len(query.SourceFields) > 0 {
		body["_source"] = append([]string{"contentType", "contentLength", "path", "extractionDate"}, query.SourceFields...)
	}

	url := fmt.Sprintf("%s/%s/_search?scroll=%s", c.baseURL, strings.Join(query.Projects, ","), c.keepAlive)
	var page scrollResponse
	if err := c.call(ctx, "elastic.search", http.MethodPost, url, body, &page); err != nil {
		return nil, fmt.Errorf("open scroll: %w", err)
	}

	return &scrollCursor{
		client:   c,
		scrollID: page.ScrollID,
		total:    page.Hits.Total.Value,
		first:    page.hits(),
	}, nil
}

// buildQuery renders the two cursor flavors: a search-string query carrying
// the batch options, or a must_not filter for documents lacking a tag.
func buildQuery(query ports.ScrollQuery) map[string]any {
	must := []any{
		map[string]any{"match": map[string]any{"type": "Document"}},
	}
	var mustNot []any
	var filter []any

	if query.Query != "" {
		queryString := map[string]any{
			"query":            query.Query,
			"default_operator": "AND",
		}
		if query.Fuzziness > 0 {
			queryString["fuzziness"] = query.Fuzziness
		}
		if query.PhraseMatch {
			queryString["type"] = "phrase"
		}
		must = append(must, map[string]any{"query_string": queryString})
	}
	if query.WithoutTag != "" {
		mustNot = append(mustNot, map[string]any{"match": map[string]any{"nerTags": query.WithoutTag}})
	}
	if len(query.FileTypes) > 0 {
		filter = append(filter, map[string]any{"terms": map[string]any{"contentType": query.FileTypes}})
	}
	if len(query.Paths) > 0 {
		var prefixes []any
		for _, path := range query.Paths {
			prefixes = append(prefixes, map[string]any{"prefix": map[string]any{"path": path}})
		}
		filter = append(filter, map[string]any{
			"bool": map[string]any{"should": prefixes, "minimum_should_match": 1},
		})
	}

	boolQuery := map[string]any{"must": must}
	if len(mustNot) > 0 {
		boolQuery["must_not"] = mustNot
	}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}
	return map[string]any{"bool": boolQuery}
}

type scrollCursor struct {
	client   *Client
	scrollID string
	total    int64
	first    []domain.DocumentHit
	started  bool
	closed   bool
}

func (s *scrollCursor) TotalHits() int64 { return s.total }

func (s *scrollCursor) Next(ctx context.Context) ([]domain.DocumentHit, error) {
	if s.closed {
		return nil, fmt.Errorf("scroll cursor is closed")
	}
	if !s.started {
		s.started = true
		return s.first, nil
	}

	body := map[string]any{
		"scroll":    s.client.keepAlive,
		"scroll_id": s.scrollID,
	}
	// Single attempt: a continuation advances the server-side cursor even
	// when the response is lost, so retrying one would skip a page. The
	// caller fails the whole run instead of silently losing results.
	var page scrollResponse
	err := s.client.callOnce(ctx, http.MethodPost, s.client.baseURL+"/_search/scroll", body, &page)
	if err != nil {
		return nil, fmt.Errorf("continue scroll: %w", err)
	}
	if page.ScrollID != "" {
		s.scrollID = page.ScrollID
	}
	return page.hits(), nil
}

func (s *scrollCursor) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	body := map[string]any{"scroll_id": []string{s.scrollID}}
	err := s.client.call(ctx, "elastic.clear_scroll", http.MethodDelete, s.client.baseURL+"/_search/scroll", body, nil)
	if err != nil {
		return fmt.Errorf("clear scroll: %w", err)
	}
	return nil
}

type scrollResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string `json:"_id"`
			Source struct {
				RootDocument   string `json:"rootDocument"`
				ContentType    string `json:"contentType"`
				ContentLength  int64  `json:"contentLength"`
				Path           string `json:"path"`
				ExtractionDate string `json:"extractionDate"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (r scrollResponse) hits() []domain.DocumentHit {
	if len(r.Hits.Hits) == 0 {
		return nil
	}
	hits := make([]domain.DocumentHit, len(r.Hits.Hits))
	for i, hit := range r.Hits.Hits {
		root := hit.Source.RootDocument
		if root == "" {
			root = hit.ID
		}
		creation, _ := time.Parse(time.RFC3339, hit.Source.ExtractionDate)
		hits[i] = domain.DocumentHit{
			ID:            hit.ID,
			RootID:        root,
			ContentType:   hit.Source.ContentType,
			ContentLength: hit.Source.ContentLength,
			Path:          hit.Source.Path,
			CreationDate:  creation,
		}
	}
	return hits
}

func (c *Client) call(ctx context.Context, operation, method, url string, body any, out any) error {
	do := c.request(method, url, body, out)
	if c.executor != nil {
		return c.executor.Execute(ctx, operation, do, classifyIndexError)
	}
	return do(ctx)
}

// callOnce bypasses the resilience executor for requests that are not safe
// to repeat.
func (c *Client) callOnce(ctx context.Context, method, url string, body any, out any) error {
	return c.request(method, url, body, out)(ctx)
}

func (c *Client) request(method, url string, body, out any) func(context.Context) error {
	return func(ctx context.Context) error {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("index request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("index status %s: %s", resp.Status, strings.TrimSpace(string(payload)))
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
}
