package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/billharvest/internal/domain/harvest"
)

func TestStoresDoNotAliasCallerState(t *testing.T) {
	ctx := context.Background()
	s := NewStores()

	rs := harvest.NewResultSet()
	rs.Put("A", harvest.ItemResult{"JAN": 1})
	require.NoError(t, s.SaveResults(ctx, rs))
	rs["A"]["JAN"] = 99

	got, err := s.LoadResults(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got["A"]["JAN"])

	now := time.Now()
	require.NoError(t, s.SaveStatus(ctx, harvest.ProgressStatus{Version: 1, LastProcessedIndex: 2, StartTime: &now}))
	now = now.Add(time.Hour)

	st, err := s.LoadStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.LastProcessedIndex)
	assert.NotEqual(t, now, *st.StartTime)
}

func TestStoresFailedUnion(t *testing.T) {
	ctx := context.Background()
	s := NewStores()

	require.NoError(t, s.SaveFailed(ctx, harvest.NewFailedSet("A")))
	require.NoError(t, s.SaveFailed(ctx, harvest.NewFailedSet("B")))

	got, err := s.LoadFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, got.Sorted())
}
