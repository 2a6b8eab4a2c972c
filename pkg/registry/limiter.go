package registry

import (
	"sync"

	"golang.org/x/time/rate"
)

// tagLimiter applies one token bucket per service tag.
type tagLimiter struct {
	limit rate.Limit
	burst int
	mu    sync.Mutex
	byTag map[string]*rate.Limiter
}

// newTagLimiter returns nil when rps or burst is not positive, which
// disables limiting.
func newTagLimiter(rps float64, burst int) *tagLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &tagLimiter{
		limit: rate.Limit(rps),
		burst: burst,
		byTag: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether one request for tag may proceed now.
func (l *tagLimiter) Allow(tag string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.byTag[tag]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.byTag[tag] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
