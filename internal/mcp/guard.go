package mcp

import (
	"sync"
	"time"
)

const (
	// guardLimit is how many calls one operation+project pair may make
	// inside a window before further calls are rejected.
	guardLimit = 120
	// guardWindow is the counting window.
	guardWindow = time.Minute
	// guardMaxKeys bounds the map itself.
	guardMaxKeys = 1024
)

// CallGuard is a bounded call-count map keyed by operation+project. It
// stops runaway callers that loop on the same operation without stalling
// normal traffic.
type CallGuard struct {
	mu     sync.Mutex
	counts map[string]*guardEntry
	now    func() time.Time // Swappable for tests
}

type guardEntry struct {
	count   int
	resetAt time.Time
}

func NewCallGuard() *CallGuard {
	return &CallGuard{
		counts: make(map[string]*guardEntry),
		now:    time.Now,
	}
}

// Allow records one call and reports whether it may proceed.
func (g *CallGuard) Allow(operation, projectID string) bool {
	key := operation + ":" + projectID
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.counts[key]
	if !ok || now.After(entry.resetAt) {
		if len(g.counts) >= guardMaxKeys {
			g.evictExpired(now)
		}
		g.counts[key] = &guardEntry{count: 1, resetAt: now.Add(guardWindow)}
		return true
	}
	entry.count++
	return entry.count <= guardLimit
}

// evictExpired drops entries whose window has passed. Called with the lock
// held when the map hits its bound.
func (g *CallGuard) evictExpired(now time.Time) {
	for key, entry := range g.counts {
		if now.After(entry.resetAt) {
			delete(g.counts, key)
		}
	}
	// Still full means every key is live; drop arbitrarily to stay bounded
	if len(g.counts) >= guardMaxKeys {
		for key := range g.counts {
			delete(g.counts, key)
			if len(g.counts) < guardMaxKeys {
				break
			}
		}
	}
}
