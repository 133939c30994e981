package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeHarvester(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/harvest/start", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"success","message":"harvest started","run_id":"abc"}`))
	})
	mux.HandleFunc("POST /v1/harvest/pause", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"status":"error","message":"no harvest is running"}`))
	})
	mux.HandleFunc("GET /v1/harvest/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"running","last_processed":4,"total_processed":3,"elapsed_time":"2m0s","run_id":"abc"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(context.Background(), append([]string{"harvestctl"}, args...))
	return out.String(), err
}

func TestStart(t *testing.T) {
	srv := fakeHarvester(t)

	out, err := runCLI(t, "--addr", srv.URL, "start")
	require.NoError(t, err)
	assert.Equal(t, "harvest started (run abc)\n", out)
}

func TestRejectedControlIsAnError(t *testing.T) {
	srv := fakeHarvester(t)

	_, err := runCLI(t, "--addr", srv.URL, "pause")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no harvest is running")
	assert.Contains(t, err.Error(), "409")
}

func TestStatus(t *testing.T) {
	srv := fakeHarvester(t)

	out, err := runCLI(t, "--addr", srv.URL, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "state:           running")
	assert.Contains(t, out, "last processed:  4")
	assert.Contains(t, out, "elapsed:         2m0s")

	out, err = runCLI(t, "--addr", srv.URL, "status", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"running","last_processed":4,"total_processed":3,"elapsed_time":"2m0s","run_id":"abc"}`, out)
}

func TestUnreachableHarvester(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := runCLI(t, "--addr", addr, "stop")
	assert.Error(t, err)
}

func TestPrintStatusInactive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, statusResponse{Status: "inactive", Message: "no harvest run has been started"}))

	assert.Contains(t, buf.String(), "state:           inactive")
	assert.Contains(t, buf.String(), "note:            no harvest run has been started")
	assert.NotContains(t, buf.String(), "elapsed:")
}
