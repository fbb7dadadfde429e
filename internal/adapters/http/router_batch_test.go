package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aawaheed/datashare/internal/config"
	"github.com/aawaheed/datashare/internal/core/domain"
	"github.com/aawaheed/datashare/internal/core/usecase"
)

type submitFake struct {
	batch    *domain.BatchSearch
	err      error
	gotUser  domain.User
	gotReq   usecase.SubmitRequest
	gotUUID  string
	gotOverr map[string]string
}

func (f *submitFake) Submit(_ context.Context, user domain.User, req usecase.SubmitRequest) (*domain.BatchSearch, error) {
	f.gotUser = user
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.batch, nil
}

func (f *submitFake) Copy(_ context.Context, user domain.User, sourceUUID string, overrides map[string]string) (*domain.BatchSearch, error) {
	f.gotUser = user
	f.gotUUID = sourceUUID
	f.gotOverr = overrides
	if f.err != nil {
		return nil, f.err
	}
	return f.batch, nil
}

type accessFake struct {
	records   []domain.BatchSearchRecord
	total     int
	batch     *domain.BatchSearch
	queries   []domain.QueryCount
	results   []domain.SearchResult
	err       error
	resultErr error
	published bool
	deleted   []string
	gotFilter *domain.WebQuery
}

func (f *accessFake) ListRecords(_ context.Context, _ domain.User, filter *domain.WebQuery) ([]domain.BatchSearchRecord, int, error) {
	f.gotFilter = filter
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.records, f.total, nil
}

func (f *accessFake) GetBatch(_ context.Context, _ domain.User, _ string, _ bool) (*domain.BatchSearch, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.batch, nil
}

func (f *accessFake) GetQueries(_ context.Context, _ domain.User, _ string, _, _ int, _, _ string, _ int) ([]domain.QueryCount, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.queries, nil
}

func (f *accessFake) GetResults(_ context.Context, _ domain.User, _ string, _ domain.WebQuery) ([]domain.SearchResult, error) {
	if f.resultErr != nil {
		return nil, f.resultErr
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *accessFake) Publish(_ context.Context, _ domain.User, _ string, _ bool) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.published, nil
}

func (f *accessFake) Delete(_ context.Context, _ domain.User, uuid string) error {
	f.deleted = append(f.deleted, uuid)
	return f.err
}

func (f *accessFake) DeleteAll(_ context.Context, _ domain.User) error {
	f.deleted = append(f.deleted, "*")
	return f.err
}

func newTestHandler(submit *submitFake, access *accessFake) http.Handler {
	return NewRouter(config.Config{}, submit, access, nil).Handler()
}

func authedRequest(method, target string, body *bytes.Buffer) *http.Request {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("X-Datashare-User", "alice")
	req.Header.Set("X-Datashare-Projects", "prj1,prj2")
	return req
}

func submitForm(t *testing.T, queries string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("csvFile", "queries.csv")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write([]byte(queries)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("WriteField(%s) error = %v", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestHealthzEndpoint(t *testing.T) {
	handler := newTestHandler(&submitFake{}, &accessFake{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestSubmitBatchSuccess(t *testing.T) {
	submit := &submitFake{batch: &domain.BatchSearch{UUID: "batch-1", NbQueries: 2}}
	handler := newTestHandler(submit, &accessFake{})

	body, contentType := submitForm(t, "Obama\nskype\n", map[string]string{
		"name":           "my search",
		"description":    "a description",
		"published":      "true",
		"fuzziness":      "2",
		"phrase_matches": "true",
	})
	req := authedRequest(http.MethodPost, "/api/batch/search/prj1,prj2", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["uuid"] != "batch-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if submit.gotReq.Name != "my search" || submit.gotReq.Description != "a description" {
		t.Fatalf("unexpected submit request: %+v", submit.gotReq)
	}
	if !submit.gotReq.Published || !submit.gotReq.PhraseMatch || submit.gotReq.Fuzziness != 2 {
		t.Fatalf("unexpected submit options: %+v", submit.gotReq)
	}
	if len(submit.gotReq.Projects) != 2 || submit.gotReq.Projects[0] != "prj1" {
		t.Fatalf("unexpected projects: %+v", submit.gotReq.Projects)
	}
	if submit.gotUser.ID != "alice" {
		t.Fatalf("unexpected user: %+v", submit.gotUser)
	}
}

func TestSubmitBatchMissingFileReturns400(t *testing.T) {
	handler := newTestHandler(&submitFake{}, &accessFake{})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("name", "no file"); err != nil {
		t.Fatalf("WriteField() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	req := authedRequest(http.MethodPost, "/api/batch/search/prj1", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestSubmitBatchOverCapReturns413(t *testing.T) {
	submit := &submitFake{err: domain.WrapError(domain.ErrPayloadTooLarge, "submit batch", errors.New("too many queries"))}
	handler := newTestHandler(submit, &accessFake{})

	body, contentType := submitForm(t, "q1\nq2\n", map[string]string{"name": "big"})
	req := authedRequest(http.MethodPost, "/api/batch/search/prj1", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
}

func TestSubmitBatchWithoutUserReturns401(t *testing.T) {
	handler := newTestHandler(&submitFake{}, &accessFake{})

	body, contentType := submitForm(t, "q1\n", map[string]string{"name": "anon"})
	req := httptest.NewRequest(http.MethodPost, "/api/batch/search/prj1", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestCopyBatchNotFoundReturns404(t *testing.T) {
	submit := &submitFake{err: domain.WrapError(domain.ErrNotFound, "copy batch", errors.New("no such batch"))}
	handler := newTestHandler(submit, &accessFake{})

	req := authedRequest(http.MethodPost, "/api/batch/search/copy/missing", bytes.NewBufferString(`{"name":"copied"}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	if submit.gotUUID != "missing" {
		t.Fatalf("expected copy of 'missing', got %q", submit.gotUUID)
	}
}

func TestCopyBatchForwardsOverrides(t *testing.T) {
	submit := &submitFake{batch: &domain.BatchSearch{UUID: "batch-2"}}
	handler := newTestHandler(submit, &accessFake{})

	req := authedRequest(http.MethodPost, "/api/batch/search/copy/batch-1", bytes.NewBufferString(`{"name":"copied","description":"again"}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if submit.gotOverr["name"] != "copied" || submit.gotOverr["description"] != "again" {
		t.Fatalf("unexpected overrides: %+v", submit.gotOverr)
	}
}

func TestListRecordsWithFilterReturnsItemsAndTotal(t *testing.T) {
	access := &accessFake{
		records: []domain.BatchSearchRecord{{UUID: "batch-1", Name: "first"}},
		total:   11,
	}
	handler := newTestHandler(&submitFake{}, access)

	req := authedRequest(http.MethodPost, "/api/batch/search", bytes.NewBufferString(`{"from":0,"size":10,"query":"first"}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var resp struct {
		Items []domain.BatchSearchRecord `json:"items"`
		Total int                        `json:"total"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Total != 11 {
		t.Fatalf("unexpected page: %+v", resp)
	}
	if access.gotFilter == nil || access.gotFilter.Query != "first" {
		t.Fatalf("filter not forwarded: %+v", access.gotFilter)
	}
}

func TestGetResultsUnauthorizedReturns401(t *testing.T) {
	access := &accessFake{resultErr: domain.WrapError(domain.ErrUnauthorized, "get batch results", errors.New("not owner"))}
	handler := newTestHandler(&submitFake{}, access)

	req := authedRequest(http.MethodPost, "/api/batch/search/result/batch-1", bytes.NewBufferString(`{}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestGetResultsMissingBatchReturns404(t *testing.T) {
	access := &accessFake{resultErr: domain.WrapError(domain.ErrNotFound, "get batch results", errors.New("no such batch"))}
	handler := newTestHandler(&submitFake{}, access)

	req := authedRequest(http.MethodPost, "/api/batch/search/result/missing", bytes.NewBufferString(`{}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestPublishUnknownBatchReturns404(t *testing.T) {
	handler := newTestHandler(&submitFake{}, &accessFake{published: false})

	req := authedRequest(http.MethodPatch, "/api/batch/search/batch-1", bytes.NewBufferString(`{"data":{"published":true}}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestPublishOwnedBatchReturns200(t *testing.T) {
	handler := newTestHandler(&submitFake{}, &accessFake{published: true})

	req := authedRequest(http.MethodPatch, "/api/batch/search/batch-1", bytes.NewBufferString(`{"data":{"published":true}}`))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestDeleteBatchReturns204(t *testing.T) {
	access := &accessFake{}
	handler := newTestHandler(&submitFake{}, access)

	req := authedRequest(http.MethodDelete, "/api/batch/search/batch-1", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if len(access.deleted) != 1 || access.deleted[0] != "batch-1" {
		t.Fatalf("unexpected deletions: %+v", access.deleted)
	}
}

func TestDeleteAllReturns204(t *testing.T) {
	access := &accessFake{}
	handler := newTestHandler(&submitFake{}, access)

	req := authedRequest(http.MethodDelete, "/api/batch/search", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if len(access.deleted) != 1 || access.deleted[0] != "*" {
		t.Fatalf("unexpected deletions: %+v", access.deleted)
	}
}

func TestGetQueriesAsCSVAttachment(t *testing.T) {
	access := &accessFake{queries: []domain.QueryCount{
		{Query: "Obama", Count: 3},
		{Query: "skype", Count: 0},
	}}
	handler := newTestHandler(&submitFake{}, access)

	req := authedRequest(http.MethodGet, "/api/batch/search/batch-1/queries?format=csv", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if got := res.Header().Get("Content-Type"); got != "text/csv" {
		t.Fatalf("expected text/csv, got %q", got)
	}
	if !strings.Contains(res.Header().Get("Content-Disposition"), "attachment") {
		t.Fatalf("expected attachment disposition, got %q", res.Header().Get("Content-Disposition"))
	}
	if res.Body.String() != "Obama\nskype\n" {
		t.Fatalf("unexpected body: %q", res.Body.String())
	}
}

func TestExportResultsCSVUsesRootHost(t *testing.T) {
	created := time.Date(2026, 3, 22, 10, 0, 0, 0, time.UTC)
	access := &accessFake{
		batch: &domain.BatchSearch{UUID: "batch-1", Projects: []string{"prj1", "prj2"}},
		results: []domain.SearchResult{{
			Query:          "Obama",
			DocumentID:     "doc-1",
			RootID:         "root-1",
			ContentType:    "application/pdf",
			ContentLength:  42,
			DocumentPath:   "/data/doc1.pdf",
			CreationDate:   created,
			DocumentNumber: 0,
		}},
	}
	handler := NewRouter(config.Config{RootHost: "https://ds.example.org"}, &submitFake{}, access, nil).Handler()

	req := authedRequest(http.MethodGet, "/api/batch/search/result/csv/batch-1", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	body := res.Body.String()
	if !strings.HasPrefix(body, resultsCSVHeader+"\n") {
		t.Fatalf("unexpected header line: %q", body)
	}
	if !strings.Contains(body, `"https://ds.example.org/#/d/prj1,prj2/doc-1/root-1"`) {
		t.Fatalf("expected document url in body: %q", body)
	}
	if !strings.Contains(body, `"2026-03-22T10:00:00Z"`) {
		t.Fatalf("expected creation date in body: %q", body)
	}
}

func TestExportResultsCSVFallsBackToRequestHost(t *testing.T) {
	access := &accessFake{
		batch:   &domain.BatchSearch{UUID: "batch-1", Projects: []string{"prj1"}},
		results: []domain.SearchResult{{Query: "q", DocumentID: "d", RootID: "r"}},
	}
	handler := newTestHandler(&submitFake{}, access)

	req := authedRequest(http.MethodGet, "/api/batch/search/result/csv/batch-1", nil)
	req.Host = "ds.local:8080"
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if !strings.Contains(res.Body.String(), `"http://ds.local:8080/#/d/prj1/d/r"`) {
		t.Fatalf("expected request host fallback in body: %q", res.Body.String())
	}
}
