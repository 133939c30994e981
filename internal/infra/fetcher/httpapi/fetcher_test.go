package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/billharvest/internal/domain/harvest"
	"github.com/ahrav/billharvest/pkg/common/logger"
)

func newFetcher(t *testing.T, srv *httptest.Server, mutate func(*Config)) *Fetcher {
	t.Helper()
	cfg := Config{BaseURL: srv.URL, APIKey: "secret"}
	if mutate != nil {
		mutate(&cfg)
	}
	f, err := New(cfg, noop.NewTracerProvider(), logger.Noop())
	require.NoError(t, err)
	return f
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "  "}, noop.NewTracerProvider(), logger.Noop())
	assert.Error(t, err)
}

func TestSession_Fetch(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    harvest.ItemResult
		wantErr error
	}{
		{
			name:   "wrapped history with string amounts",
			status: http.StatusOK,
			body:   `{"id":"1001","history":[{"month":"JAN-2024","amount":"1,234.50"},{"month":"FEB-2024","amount":"n/a"}]}`,
			want:   harvest.ItemResult{"JAN-2024": 1234.5, "FEB-2024": 0},
		},
		{
			name:   "bare array with numeric amounts",
			status: http.StatusOK,
			body:   `[{"month":"MAR-2024","amount":99.9}]`,
			want:   harvest.ItemResult{"MAR-2024": 99.9},
		},
		{
			name:    "empty history",
			status:  http.StatusOK,
			body:    `{"id":"1001","history":[]}`,
			wantErr: harvest.ErrNoData,
		},
		{
			name:    "server error",
			status:  http.StatusBadGateway,
			body:    `oops`,
			wantErr: ErrUnexpectedStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/bills/1001", r.URL.Path)
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			sess, err := newFetcher(t, srv, nil).Open(context.Background())
			require.NoError(t, err)
			defer sess.Close()

			got, err := sess.Fetch(context.Background(), "1001")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSession_FetchMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"history": [`))
	}))
	defer srv.Close()

	sess, err := newFetcher(t, srv, nil).Open(context.Background())
	require.NoError(t, err)

	_, err = sess.Fetch(context.Background(), "1001")
	assert.Error(t, err)
}

func TestFetcher_OpenChecksHealth(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" && !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFetcher(t, srv, func(c *Config) { c.HealthPath = "/healthz" })

	_, err := f.Open(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedStatus)

	healthy.Store(true)
	sess, err := f.Open(context.Background())
	require.NoError(t, err)
	assert.NoError(t, sess.Close())
}

func TestSession_FetchHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sess, err := newFetcher(t, srv, nil).Open(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sess.Fetch(ctx, "1001")
	assert.ErrorIs(t, err, context.Canceled)
}
