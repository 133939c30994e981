package netcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/billharvest/pkg/common/logger"
)

func TestHTTPProber_Reachable(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "ok", status: http.StatusOK},
		{name: "server error still proves connectivity", status: http.StatusInternalServerError},
		{name: "redirect is not followed", status: http.StatusFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.status == http.StatusFound {
					w.Header().Set("Location", "http://127.0.0.1:1/unreachable")
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := NewHTTPProber(srv.URL, time.Second, noop.NewTracerProvider(), logger.Noop())
			assert.True(t, p.Reachable(context.Background()))
		})
	}
}

func TestHTTPProber_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewHTTPProber(url, time.Second, noop.NewTracerProvider(), logger.Noop())
	assert.False(t, p.Reachable(context.Background()))
}

func TestHTTPProber_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p := NewHTTPProber(srv.URL, 20*time.Millisecond, noop.NewTracerProvider(), logger.Noop())
	assert.False(t, p.Reachable(context.Background()))
}

func TestAlways(t *testing.T) {
	assert.True(t, Always{}.Reachable(context.Background()))
}
