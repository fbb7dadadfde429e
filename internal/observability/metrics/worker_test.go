package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWorkerMetricsServeRecordedBatchSeries(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartBatch()
	m.FinishBatch("worker", 3*time.Second, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body, _ := io.ReadAll(rec.Result().Body)
	exposition := string(body)
	for _, series := range []string{
		`ds_worker_batch_process_total{service="worker",state="success"} 1`,
		"ds_worker_batch_process_duration_seconds",
		`ds_worker_batch_process_in_flight{service="worker"} 0`,
	} {
		if !strings.Contains(exposition, series) {
			t.Errorf("exposition missing %q:\n%s", series, exposition)
		}
	}
}
