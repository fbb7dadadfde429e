package httpadapter

import (
	"fmt"
	"strings"
	"time"

	"github.com/aawaheed/datashare/internal/core/domain"
)

// resultsCSVHeader is the pinned export header. Existing downstream
// tooling parses this exact line, spacing included.
const resultsCSVHeader = `"query", "documentUrl", "documentId","rootId","contentType","contentLength","documentPath","creationDate","documentNumber"`

// resultsCSV renders result rows in the fixed nine-column layout. Field
// values are wrapped in double quotes but not escaped; consumers of this
// format expect it that way.
func resultsCSV(rootHost string, projects []string, results []domain.SearchResult) string {
	var b strings.Builder
	b.WriteString(resultsCSVHeader)
	b.WriteByte('\n')

	projectList := strings.Join(projects, ",")
	for _, res := range results {
		documentURL := fmt.Sprintf("%s/#/d/%s/%s/%s", rootHost, projectList, res.DocumentID, res.RootID)
		b.WriteString(fmt.Sprintf("\"%s\",\"%s\",\"%s\",\"%s\",\"%s\",\"%d\",\"%s\",\"%s\",\"%d\"\n",
			res.Query,
			documentURL,
			res.DocumentID,
			res.RootID,
			res.ContentType,
			res.ContentLength,
			res.DocumentPath,
			res.CreationDate.Format(time.RFC3339),
			res.DocumentNumber,
		))
	}
	return b.String()
}

// queriesCSV renders one query per line, submission order preserved.
func queriesCSV(queries []domain.QueryCount) string {
	var b strings.Builder
	for _, q := range queries {
		b.WriteString(q.Query)
		b.WriteByte('\n')
	}
	return b.String()
}
