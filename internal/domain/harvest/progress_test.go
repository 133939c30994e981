package harvest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressStatusNormalize(t *testing.T) {
	t.Run("legacy record without version", func(t *testing.T) {
		st, err := ProgressStatus{LastProcessedIndex: 4, TotalProcessed: 3}.Normalize()
		require.NoError(t, err)
		assert.Equal(t, CurrentStatusVersion, st.Version)
		assert.Equal(t, 4, st.LastProcessedIndex)
	})

	t.Run("negative counters are clamped", func(t *testing.T) {
		st, err := ProgressStatus{Version: 1, LastProcessedIndex: -2, TotalProcessed: -1}.Normalize()
		require.NoError(t, err)
		assert.Zero(t, st.LastProcessedIndex)
		assert.Zero(t, st.TotalProcessed)
	})

	t.Run("newer version is rejected", func(t *testing.T) {
		_, err := ProgressStatus{Version: CurrentStatusVersion + 1}.Normalize()
		assert.ErrorIs(t, err, ErrUnsupportedStatusVersion)
	})
}

func TestProgressStatusThroughput(t *testing.T) {
	start := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		st    ProgressStatus
		now   time.Time
		want  float64
		elaps time.Duration
	}{
		{name: "never started", st: ProgressStatus{TotalProcessed: 7}, now: start, want: 7},
		{name: "no elapsed time", st: ProgressStatus{TotalProcessed: 7, StartTime: &start}, now: start, want: 7},
		{
			name:  "two hours",
			st:    ProgressStatus{TotalProcessed: 50, StartTime: &start},
			now:   start.Add(2 * time.Hour),
			want:  25,
			elaps: 2 * time.Hour,
		},
		{
			name:  "half an hour",
			st:    ProgressStatus{TotalProcessed: 10, StartTime: &start},
			now:   start.Add(30 * time.Minute),
			want:  20,
			elaps: 30 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.st.Throughput(tt.now), 1e-9)
			assert.Equal(t, tt.elaps, tt.st.Elapsed(tt.now))
		})
	}
}
