package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	errNegativeWindow = errors.New("from/size must be non-negative")
	errBatchDatePair  = errors.New("batchDate must hold a start and an end date")
)

// WebQuery is the read-side filter and pagination descriptor for batch
// records and results. Size 0 means all rows from From onward. Never
// persisted.
type WebQuery struct {
	From         int      `json:"from"`
	Size         int      `json:"size"`
	Query        string   `json:"query,omitempty"`
	Sort         string   `json:"sort,omitempty"`
	Order        string   `json:"order,omitempty"`
	BatchDate    []string `json:"batchDate,omitempty"`
	PublishState *bool    `json:"publishState,omitempty"`
}

// Validate rejects descriptors the repository cannot honor.
func (q WebQuery) Validate() error {
	if q.From < 0 || q.Size < 0 {
		return WrapError(ErrInvalidRequest, "web query", errNegativeWindow)
	}
	if len(q.BatchDate) != 0 && len(q.BatchDate) != 2 {
		return WrapError(ErrInvalidRequest, "web query", errBatchDatePair)
	}
	for _, value := range q.BatchDate {
		if !parseableDate(value) {
			return WrapError(ErrInvalidRequest, "web query",
				fmt.Errorf("batchDate %q is not a date", value))
		}
	}
	return nil
}

// parseableDate accepts the two wire formats callers send, a full RFC 3339
// timestamp or a bare day. The values reach the store as range bounds, so
// anything else has to be rejected here.
func parseableDate(value string) bool {
	if _, err := time.Parse(time.RFC3339, value); err == nil {
		return true
	}
	_, err := time.Parse("2006-01-02", value)
	return err == nil
}

// QueryAll matches every row, unpaginated.
func QueryAll() WebQuery {
	return WebQuery{}
}
