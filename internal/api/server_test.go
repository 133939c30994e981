package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	appharvest "github.com/ahrav/billharvest/internal/app/harvest"
	"github.com/ahrav/billharvest/internal/infra/fetcher/mock"
	"github.com/ahrav/billharvest/internal/infra/netcheck"
	"github.com/ahrav/billharvest/internal/infra/storage/file"
	"github.com/ahrav/billharvest/internal/infra/storage/memory"
	"github.com/ahrav/billharvest/pkg/common/logger"
)

func TestServer_HarvestLifecycle(t *testing.T) {
	input := filepath.Join(t.TempDir(), "cids.txt")
	require.NoError(t, os.WriteFile(input, []byte("1001\n1002\n1003\n"), 0o644))

	log := logger.Noop()
	stores := memory.NewStores()
	source := file.NewWorkList(input, log)
	retry := appharvest.NewRetryPolicy(appharvest.RetryConfig{
		MaxAttempts:    1,
		BaseDelay:      time.Millisecond,
		AttemptTimeout: time.Second,
		ProbeInterval:  time.Millisecond,
	}, netcheck.Always{}, appharvest.NoopMetrics(), log)
	runner := appharvest.NewRunner(mock.New(mock.Config{}), source, stores.Harvest(), retry, log)
	ctrl := appharvest.NewController(runner, source, stores, nil, log)
	t.Cleanup(func() { _ = ctrl.Shutdown(context.Background()) })

	s := NewServer(Config{Gatherer: prometheus.NewRegistry()}, log, noop.NewTracerProvider(), ctrl, nil)

	rec, body := do(t, s, http.MethodPost, "/v1/harvest/start")
	require.Equal(t, http.StatusAccepted, rec.Code)
	runID := body["run_id"]

	_, err := ctrl.Wait(context.Background())
	require.NoError(t, err)

	rec, body = do(t, s, http.MethodGet, "/v1/harvest/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "inactive", body["status"])
	assert.EqualValues(t, 3, body["last_processed"])
	assert.EqualValues(t, 3, body["total_processed"])
	assert.Equal(t, runID, body["run_id"])
	assert.Equal(t, "COMPLETED", body["last_outcome"])

	rec, body = do(t, s, http.MethodPost, "/v1/harvest/pause")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, statusError, body["status"])

	rec, body = do(t, s, http.MethodPost, "/v1/harvest/stop")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, statusSuccess, body["status"])
}

func TestServer_StartWithoutInput(t *testing.T) {
	log := logger.Noop()
	stores := memory.NewStores()
	source := file.NewWorkList(filepath.Join(t.TempDir(), "missing.xlsx"), log)
	retry := appharvest.NewRetryPolicy(appharvest.DefaultRetryConfig(), netcheck.Always{}, nil, log)
	runner := appharvest.NewRunner(mock.New(mock.Config{}), source, stores.Harvest(), retry, log)
	ctrl := appharvest.NewController(runner, source, stores, nil, log)

	s := NewServer(Config{Gatherer: prometheus.NewRegistry()}, log, noop.NewTracerProvider(), ctrl, nil)

	rec, body := do(t, s, http.MethodPost, "/v1/harvest/start")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, statusError, body["status"])
}
