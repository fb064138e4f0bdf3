package edge

import (
	"errors"
	"strconv"

	"github.com/wirehole/wirehole/internal/store"
	"github.com/wirehole/wirehole/internal/subdomain"
)

var errBadHandshake = errors.New("project_id and api_key are required")

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// allocateSubdomain derives a unique subdomain for a project, per spec
// §4.5's "allocating one if absent".
func allocateSubdomain(s *store.Store, name, owner string) string {
	return subdomain.Allocate(name, owner, s.SubdomainTaken)
}
