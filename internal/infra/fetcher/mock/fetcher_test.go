package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/billharvest/internal/domain/harvest"
)

func TestFetcher_Deterministic(t *testing.T) {
	f := New(Config{Months: 3, End: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)})
	sess, err := f.Open(context.Background())
	require.NoError(t, err)

	a, err := sess.Fetch(context.Background(), "1001")
	require.NoError(t, err)
	b, err := sess.Fetch(context.Background(), "1001")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 3)
	assert.Contains(t, a, "MAR-2024")
	assert.Contains(t, a, "FEB-2024")
	assert.Contains(t, a, "JAN-2024")
}

func TestFetcher_FailRatio(t *testing.T) {
	ctx := context.Background()

	always, err := New(Config{FailRatio: 1}).Open(ctx)
	require.NoError(t, err)
	_, err = always.Fetch(ctx, "1001")
	assert.ErrorIs(t, err, ErrSimulated)

	never, err := New(Config{FailRatio: 0}).Open(ctx)
	require.NoError(t, err)
	res, err := never.Fetch(ctx, "1001")
	require.NoError(t, err)
	assert.NotEmpty(t, res)
}

func TestFetcher_LatencyHonorsContext(t *testing.T) {
	sess, err := New(Config{Latency: time.Hour}).Open(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = sess.Fetch(ctx, harvest.WorkItem("1001"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
