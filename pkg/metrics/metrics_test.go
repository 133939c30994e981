package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/billharvest/internal/domain/harvest"
)

func TestMetrics_RecordsRunActivity(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("harvester", reg)
	ctx := context.Background()

	m.SetRunActive(ctx, true)
	m.IncItems(ctx, harvest.OutcomeSucceeded)
	m.IncItems(ctx, harvest.OutcomeSucceeded)
	m.IncItems(ctx, harvest.OutcomeFailed)
	m.IncFetchAttempts(ctx)
	m.IncFetchErrors(ctx)
	m.ObserveItemDuration(ctx, 250*time.Millisecond)
	m.SetCheckpoint(ctx, 7)
	m.IncStoreErrors(ctx, "results")
	m.IncMessagePublished(ctx, "harvest.outcomes")
	m.IncPublishError(ctx, "harvest.outcomes")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ItemsTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ItemsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchAttemptsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchErrorsTotal))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.Checkpoint))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrorsTotal.WithLabelValues("results")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesPublishedTotal.WithLabelValues("harvest.outcomes")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishErrorsTotal.WithLabelValues("harvest.outcomes")))

	m.SetRunActive(ctx, false)
	m.IncRunsFinished(ctx, harvest.RunStateCompleted)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsFinishedTotal.WithLabelValues("COMPLETED")))

	n, err := testutil.GatherAndCount(reg, "harvester_item_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNew_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New("harvester", prometheus.NewRegistry())
		New("harvester", prometheus.NewRegistry())
	})
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("harvester", reg)
	m.SetCheckpoint(context.Background(), 3)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "harvester_checkpoint_index 3")
}
