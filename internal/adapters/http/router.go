package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aawaheed/datashare/internal/config"
	"github.com/aawaheed/datashare/internal/core/domain"
	"github.com/aawaheed/datashare/internal/core/usecase"
	"github.com/aawaheed/datashare/internal/observability/metrics"
)

const (
	serviceName = "api"

	maxSubmitFormMemory = 32 << 20
	maxInFlightRequests = 256
	backpressureWait    = 100 * time.Millisecond
)

type batchSubmitter interface {
	Submit(ctx context.Context, user domain.User, req usecase.SubmitRequest) (*domain.BatchSearch, error)
	Copy(ctx context.Context, user domain.User, sourceUUID string, overrides map[string]string) (*domain.BatchSearch, error)
}

type batchAccessor interface {
	ListRecords(ctx context.Context, user domain.User, filter *domain.WebQuery) ([]domain.BatchSearchRecord, int, error)
	GetBatch(ctx context.Context, user domain.User, uuid string, withQueries bool) (*domain.BatchSearch, error)
	GetQueries(ctx context.Context, user domain.User, uuid string, from, size int, search, orderBy string, maxResults int) ([]domain.QueryCount, error)
	GetResults(ctx context.Context, user domain.User, uuid string, filter domain.WebQuery) ([]domain.SearchResult, error)
	Publish(ctx context.Context, user domain.User, uuid string, published bool) (bool, error)
	Delete(ctx context.Context, user domain.User, uuid string) error
	DeleteAll(ctx context.Context, user domain.User) error
}

type Router struct {
	cfg     config.Config
	submit  batchSubmitter
	access  batchAccessor
	metrics *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	submit batchSubmitter,
	access batchAccessor,
	m *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:     cfg,
		submit:  submit,
		access:  access,
		metrics: m,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/api/batch/search", rt.collection)
	mux.HandleFunc("/api/batch/search/", rt.dispatch)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, maxInFlightRequests, backpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// collection serves the bare /api/batch/search resource: the record list,
// the filtered list and the delete-all sweep.
func (rt *Router) collection(w http.ResponseWriter, r *http.Request) {
	user, err := userFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		records, _, err := rt.access.ListRecords(r.Context(), user, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	case http.MethodPost:
		var filter domain.WebQuery
		if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		records, total, err := rt.access.ListRecords(r.Context(), user, &filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": records, "total": total})
	case http.MethodDelete:
		if err := rt.access.DeleteAll(r.Context(), user); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (rt *Router) dispatch(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/batch/search/")

	switch {
	case strings.HasPrefix(rest, "result/csv/"):
		rt.exportResultsCSV(w, r, strings.TrimPrefix(rest, "result/csv/"))
	case strings.HasPrefix(rest, "result/"):
		rt.getResults(w, r, strings.TrimPrefix(rest, "result/"))
	case strings.HasPrefix(rest, "copy/"):
		rt.copyBatch(w, r, strings.TrimPrefix(rest, "copy/"))
	case strings.HasSuffix(rest, "/queries"):
		rt.getQueries(w, r, strings.TrimSuffix(rest, "/queries"))
	case rest == "" || strings.Contains(rest, "/"):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		rt.item(w, r, rest)
	}
}

// item serves /api/batch/search/{segment}: reads, deletes and publication
// flips address a batch by uuid; a POST reads the segment as the
// comma-separated project list of a new submission.
func (rt *Router) item(w http.ResponseWriter, r *http.Request, segment string) {
	switch r.Method {
	case http.MethodGet:
		rt.getBatch(w, r, segment)
	case http.MethodDelete:
		rt.deleteBatch(w, r, segment)
	case http.MethodPatch:
		rt.publishBatch(w, r, segment)
	case http.MethodPost:
		rt.submitBatch(w, r, segment)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (rt *Router) getBatch(w http.ResponseWriter, r *http.Request, uuid string) {
	user, err := userFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	withQueries, _ := strconv.ParseBool(r.URL.Query().Get("withQueries"))
	batch, err := rt.access.GetBatch(r.Context(), user, uuid, withQueries)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (rt *Router) deleteBatch(w http.ResponseWriter, r *http.Request, uuid string) {
	user, err := userFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := rt.access.Delete(r.Context(), user, uuid); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) publishBatch(w http.ResponseWriter, r *http.Request, uuid string) {
	user, err := userFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Data struct {
			Published bool `json:"published"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	updated, err := rt.access.Publish(r.Context(), user, uuid, req.Data.Published)
	if err != nil {
		writeError(w, err)
		return
	}
	if !updated {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch search not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"published": req.Data.Published})
}

func (rt *Router) submitBatch(w http.ResponseWriter, r *http.Request, projectSegment string) {
	user, err := userFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := r.ParseMultipartForm(maxSubmitFormMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form is required"})
		return
	}

	file, _, err := r.FormFile("csvFile")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'csvFile' is required"})
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read query file"})
		return
	}

	fuzziness, _ := strconv.Atoi(r.FormValue("fuzziness"))
	published, _ := strconv.ParseBool(r.FormValue("published"))
	phraseMatch, _ := strconv.ParseBool(r.FormValue("phrase_matches"))

	batch, err := rt.submit.Submit(r.Context(), user, usecase.SubmitRequest{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		RawQueries:  string(raw),
		Projects:    splitList(projectSegment),
		Published:   published,
		FileTypes:   r.MultipartForm.Value["fileTypes"],
		Paths:       r.MultipartForm.Value["paths"],
		Tags:        r.MultipartForm.Value["tags"],
		Fuzziness:   fuzziness,
		PhraseMatch: phraseMatch,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordBatchSubmitted(serviceName, "submit", batch.NbQueries)
	}
	writeJSON(w, http.StatusOK, map[string]string{"uuid": batch.UUID})
}

func (rt *Router) copyBatch(w http.ResponseWriter, r *http.Request, uuid string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	user, err := userFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	overrides := map[string]string{}
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	batch, err := rt.submit.Copy(r.Context(), user, uuid, overrides)
	if err != nil {
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordBatchSubmitted(serviceName, "copy", batch.NbQueries)
	}
	writeJSON(w, http.StatusOK, map[string]string{"uuid": batch.UUID})
}

func (rt *Router) getQueries(w http.ResponseWriter, r *http.Request, uuid string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	user, err := userFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	params := r.URL.Query()
	from, _ := strconv.Atoi(params.Get("from"))
	size, _ := strconv.Atoi(params.Get("size"))
	maxResults := -1
	if raw := params.Get("maxResults"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			maxResults = n
		}
	}

	queries, err := rt.access.GetQueries(r.Context(), user, uuid, from, size, params.Get("search"), params.Get("orderBy"), maxResults)
	if err != nil {
		writeError(w, err)
		return
	}

	if params.Get("format") == "csv" {
		if rt.metrics != nil {
			rt.metrics.RecordExport(serviceName, "queries_csv")
		}
		writeCSVAttachment(w, "queries.csv", queriesCSV(queries))
		return
	}
	writeJSON(w, http.StatusOK, queries)
}

func (rt *Router) getResults(w http.ResponseWriter, r *http.Request, uuid string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	user, err := userFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var filter domain.WebQuery
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	results, err := rt.access.GetResults(r.Context(), user, uuid, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (rt *Router) exportResultsCSV(w http.ResponseWriter, r *http.Request, uuid string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	user, err := userFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	batch, err := rt.access.GetBatch(r.Context(), user, uuid, false)
	if err != nil {
		writeError(w, err)
		return
	}
	results, err := rt.access.GetResults(r.Context(), user, uuid, domain.QueryAll())
	if err != nil {
		writeError(w, err)
		return
	}

	rootHost := rt.cfg.RootHost
	if rootHost == "" {
		rootHost = "http://" + r.Host
	}

	if rt.metrics != nil {
		rt.metrics.RecordExport(serviceName, "results_csv")
	}
	writeCSVAttachment(w, "batch_search_results.csv", resultsCSV(rootHost, batch.Projects, results))
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeCSVAttachment(w http.ResponseWriter, filename, body string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment;filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}
