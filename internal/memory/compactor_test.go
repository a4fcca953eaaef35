package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemem/codemem/internal/store"
	"github.com/codemem/codemem/pkg/types"
)

func TestCompactorRunNow(t *testing.T) {
	st, err := store.New(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	project := types.NewProject(t.TempDir())
	require.NoError(t, st.EnsureProject(ctx, project))

	day := time.Now().UTC().Format("2006-01-02")
	for i := 0; i < 10; i++ {
		require.NoError(t, st.AppendQueryLog(ctx, store.QueryLogRecord{
			QueryID:     uuid.NewString(),
			ProjectID:   project.ID,
			Day:         day,
			Query:       fmt.Sprintf("query %d", i),
			ResultCount: 3,
			LatencyMS:   12,
		}))
	}

	c := NewCompactor(st, zerolog.Nop(), "", 4)
	removed, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), removed)

	// A second pass has nothing left to fold
	removed, err = c.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCompactorDefaults(t *testing.T) {
	c := NewCompactor(nil, zerolog.Nop(), "", 0)
	assert.Equal(t, DefaultSchedule, c.schedule)
	assert.Equal(t, DefaultKeepRecent, c.keepRecent)
}

func TestCompactorStartStop(t *testing.T) {
	st, err := store.New(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	c := NewCompactor(st, zerolog.Nop(), "@every 1h", 10)
	require.NoError(t, c.Start())
	c.Stop()

	// A bad schedule surfaces at Start, not at construction
	bad := NewCompactor(st, zerolog.Nop(), "not a schedule", 10)
	assert.Error(t, bad.Start())
}
