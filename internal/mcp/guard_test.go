package mcp

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCallGuardLimit(t *testing.T) {
	g := NewCallGuard()

	for i := 0; i < guardLimit; i++ {
		assert.True(t, g.Allow("search", "project-a"))
	}
	assert.False(t, g.Allow("search", "project-a"))

	// Other operations and projects are counted separately
	assert.True(t, g.Allow("get_memory", "project-a"))
	assert.True(t, g.Allow("search", "project-b"))
}

func TestCallGuardWindowReset(t *testing.T) {
	g := NewCallGuard()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	for i := 0; i < guardLimit; i++ {
		g.Allow("search", "project-a")
	}
	assert.False(t, g.Allow("search", "project-a"))

	now = now.Add(guardWindow + time.Second)
	assert.True(t, g.Allow("search", "project-a"))
}

func TestCallGuardStaysBounded(t *testing.T) {
	g := NewCallGuard()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	for i := 0; i < guardMaxKeys; i++ {
		g.Allow("search", fmt.Sprintf("project-%d", i))
	}
	assert.Len(t, g.counts, guardMaxKeys)

	// Everything expired: the next call evicts before inserting
	now = now.Add(guardWindow + time.Second)
	assert.True(t, g.Allow("search", "fresh-project"))
	assert.Len(t, g.counts, 1)
}

func TestCallGuardEvictsLiveKeysWhenFull(t *testing.T) {
	g := NewCallGuard()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	for i := 0; i < guardMaxKeys; i++ {
		g.Allow("search", fmt.Sprintf("project-%d", i))
	}

	// Nothing expired, yet the map never exceeds its bound
	assert.True(t, g.Allow("search", "one-more"))
	assert.LessOrEqual(t, len(g.counts), guardMaxKeys)
}
