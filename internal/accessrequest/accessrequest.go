// Package accessrequest implements the human-in-the-loop moderation
// workflow for blocked requests (C9): list, approve, reject, revoke,
// per spec §4.9.
package accessrequest

import (
	"fmt"
	"time"

	"github.com/wirehole/wirehole/internal/store"
)

// minDuration and maxDuration bound an approval window, per spec §4.9
// ("duration_minutes ∈ [1..60]").
const (
	minDuration = time.Minute
	maxDuration = 60 * time.Minute
)

// Workflow wraps the store's access-request operations with the
// validation spec §4.9 assigns to this layer.
type Workflow struct {
	store *store.Store
}

// New constructs a Workflow backed by s.
func New(s *store.Store) *Workflow {
	return &Workflow{store: s}
}

// List returns access requests for a project, optionally filtered by
// status.
func (w *Workflow) List(projectID int64, status string) ([]store.AccessRequest, error) {
	return w.store.ListAccessRequests(projectID, status)
}

// Approve grants a temporary bypass for duration, which must fall
// within [1, 60] minutes. Any request, whatever its current status,
// becomes approved; approving an already-approved request refreshes
// its window.
func (w *Workflow) Approve(id int64, duration time.Duration) error {
	if duration < minDuration || duration > maxDuration {
		return fmt.Errorf("accessrequest: duration must be between 1 and 60 minutes, got %s", duration)
	}
	return w.store.Approve(id, duration)
}

// Reject marks an access request rejected.
func (w *Workflow) Reject(id int64) error {
	return w.store.Reject(id)
}

// Revoke expires every approved access request matching filter,
// returning the number of bypasses revoked.
func (w *Workflow) Revoke(filter store.RevokeFilter) (int64, error) {
	return w.store.Revoke(filter)
}

// Get returns a single access request by id.
func (w *Workflow) Get(id int64) (*store.AccessRequest, error) {
	return w.store.GetAccessRequest(id)
}
