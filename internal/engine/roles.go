package engine

import (
	"sync"

	"github.com/pview/rtcengine/internal/domain"
)

// roleController serializes role transitions. Only one transition may be in
// flight; later requests queue and are sent in request order after each
// confirmation, so the settled role always equals the last requested one.
type roleController struct {
	mu       sync.Mutex
	current  domain.ClientRole
	inflight bool
	queue    []domain.ClientRole
}

func newRoleController(initial domain.ClientRole) *roleController {
	return &roleController{current: initial}
}

// request records a transition. The returned bool says whether the caller
// should send the request now; false means it was queued behind an in-flight
// transition.
func (rc *roleController) request(role domain.ClientRole) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.inflight {
		rc.queue = append(rc.queue, role)
		return false
	}
	rc.inflight = true
	return true
}

// confirm applies a confirmed transition and dequeues the next request, if
// any. The returned bool says whether next should be sent.
func (rc *roleController) confirm(role domain.ClientRole) (next domain.ClientRole, send bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.current = role
	if len(rc.queue) == 0 {
		rc.inflight = false
		return 0, false
	}
	next = rc.queue[0]
	rc.queue = rc.queue[1:]
	return next, true
}

func (rc *roleController) role() domain.ClientRole {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.current
}

func (rc *roleController) pending() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.inflight
}

func (rc *roleController) reset(role domain.ClientRole) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.current = role
	rc.inflight = false
	rc.queue = nil
}
