// Package admission implements overload shedding for the storage-overloaded
// reject path named in §4.8's UDF state machine. Grounded on the teacher's
// dynamic throttle in internal/replica/flow_writer.go: a golang.org/x/time
// rate.Limiter defaulting to unlimited (rate.Inf), adjustable at runtime,
// generalized here to per-namespace limiters guarding write admission.
package admission

import (
	"sync"

	"golang.org/x/time/rate"
)

// Controller sheds write load per namespace once its configured rate is
// exceeded. Reads are never shed here; §4.8 only names DEVICE_OVERLOAD on
// the write/apply path.
type Controller struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	def      rate.Limit
}

// NewController builds a controller with no per-namespace override; every
// namespace defaults to unlimited until SetLimit is called, matching the
// teacher's flow writer defaulting to rate.Inf.
func NewController() *Controller {
	return &Controller{
		limiters: make(map[string]*rate.Limiter),
		def:      rate.Inf,
	}
}

func (c *Controller) limiterFor(namespace string) *rate.Limiter {
	c.mu.RLock()
	l, ok := c.limiters[namespace]
	c.mu.RUnlock()
	if ok {
		return l
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok = c.limiters[namespace]; ok {
		return l
	}
	l = rate.NewLimiter(c.def, burstFor(c.def))
	c.limiters[namespace] = l
	return l
}

func burstFor(limit rate.Limit) int {
	if limit == rate.Inf || limit <= 0 {
		return 0
	}
	if limit < 1 {
		return 1
	}
	return int(limit)
}

// SetLimit sets the sustained writes-per-second ceiling for a namespace.
// A limit of rate.Inf (or <= 0) disables shedding for that namespace. The
// namespace gets a fresh limiter, so it starts with its full burst.
func (c *Controller) SetLimit(namespace string, writesPerSecond float64) {
	limit := rate.Inf
	if writesPerSecond > 0 {
		limit = rate.Limit(writesPerSecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiters[namespace] = rate.NewLimiter(limit, burstFor(limit))
}

// Admit reports whether a write to namespace should proceed. A false
// return means the caller must reject with DEVICE_OVERLOAD (§7) without
// consuming a reservation.
func (c *Controller) Admit(namespace string) bool {
	return c.limiterFor(namespace).Allow()
}
