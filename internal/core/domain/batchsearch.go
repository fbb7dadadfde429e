package domain

import "time"

type BatchState string

const (
	StateQueued  BatchState = "QUEUED"
	StateRunning BatchState = "RUNNING"
	StateSuccess BatchState = "SUCCESS"
	StateFailure BatchState = "FAILURE"
)

func (s BatchState) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

// User identifies the caller and the projects visible to it. Session
// resolution happens upstream; this is only the resolved identity.
type User struct {
	ID       string   `json:"id"`
	Projects []string `json:"projects,omitempty"`
}

// BatchSearch is a named, owned set of queries submitted together for
// asynchronous execution against the document index.
type BatchSearch struct {
	UUID        string       `json:"uuid"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	User        User         `json:"user"`
	Projects    []string     `json:"projects"`
	Queries     []QueryCount `json:"queries,omitempty"`
	NbQueries   int          `json:"nbQueries"`
	Published   bool         `json:"published"`
	FileTypes   []string     `json:"fileTypes,omitempty"`
	Paths       []string     `json:"paths,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Fuzziness   int          `json:"fuzziness"`
	PhraseMatch bool         `json:"phraseMatches"`
	State       BatchState   `json:"state"`
	NbResults   int          `json:"nbResults"`
	ErrorMsg    string       `json:"errorMessage,omitempty"`
	BatchDate   time.Time    `json:"batchDate"`
	EndDate     *time.Time   `json:"endDate,omitempty"`
}

// QueryCount associates one canonical query with the number of results
// collected for it so far. Order within a batch follows submission order.
type QueryCount struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// BatchSearchRecord is the list projection of a batch: everything except
// the query set itself.
type BatchSearchRecord struct {
	UUID      string     `json:"uuid"`
	Name      string     `json:"name"`
	User      User       `json:"user"`
	Projects  []string   `json:"projects"`
	NbQueries int        `json:"nbQueries"`
	NbResults int        `json:"nbResults"`
	Published bool       `json:"published"`
	State     BatchState `json:"state"`
	BatchDate time.Time  `json:"batchDate"`
	EndDate   *time.Time `json:"endDate,omitempty"`
}

// DocumentHit is one document returned by an index cursor page. RootID is
// the top-level document for embedded or attachment documents.
type DocumentHit struct {
	ID            string
	RootID        string
	ContentType   string
	ContentLength int64
	Path          string
	CreationDate  time.Time
}

// SearchResult is one matched document for one query within one batch.
// Immutable once written.
type SearchResult struct {
	Query          string    `json:"query"`
	DocumentID     string    `json:"documentId"`
	RootID         string    `json:"rootId"`
	ContentType    string    `json:"contentType"`
	ContentLength  int64     `json:"contentLength"`
	DocumentPath   string    `json:"documentPath"`
	CreationDate   time.Time `json:"creationDate"`
	DocumentNumber int       `json:"documentNumber"`
}
