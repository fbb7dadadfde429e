package httpadapter

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aawaheed/datashare/internal/core/domain"
)

const (
	userHeader     = "X-Datashare-User"
	projectsHeader = "X-Datashare-Projects"
)

var errNoUser = errors.New("no authenticated user on request")

// userFromRequest reads the identity installed by the fronting session
// layer. Requests without a user are refused; project membership may be
// empty.
func userFromRequest(r *http.Request) (domain.User, error) {
	id := strings.TrimSpace(r.Header.Get(userHeader))
	if id == "" {
		return domain.User{}, domain.WrapError(domain.ErrUnauthorized, "resolve user", errNoUser)
	}
	return domain.User{
		ID:       id,
		Projects: splitList(r.Header.Get(projectsHeader)),
	}, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
