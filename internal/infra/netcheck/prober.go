// Package netcheck reports whether the outside network is reachable.
package netcheck

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/billharvest/internal/domain/harvest"
	"github.com/ahrav/billharvest/pkg/common/logger"
	"github.com/ahrav/billharvest/pkg/common/otel"
)

const (
	DefaultURL     = "https://www.google.com"
	DefaultTimeout = 5 * time.Second
)

var _ harvest.Prober = (*HTTPProber)(nil)

// HTTPProber treats any HTTP response from URL, whatever its status, as proof
// of connectivity.
type HTTPProber struct {
	url     string
	timeout time.Duration
	client  *http.Client
	logger  *logger.Logger
}

// NewHTTPProber builds a prober for url. Empty values fall back to the
// defaults.
func NewHTTPProber(url string, timeout time.Duration, tp trace.TracerProvider, log *logger.Logger) *HTTPProber {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPProber{
		url:     url,
		timeout: timeout,
		client: &http.Client{
			Transport: otel.HTTPTransport(http.DefaultTransport, tp),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: log.With("component", "netcheck"),
	}
}

func (p *HTTPProber) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Error(ctx, "Invalid connectivity check request", "url", p.url, "error", err)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug(ctx, "Connectivity check failed", "url", p.url, "error", err)
		return false
	}
	resp.Body.Close()
	return true
}

// Always is a Prober that never reports an outage. Offline fetchers use it.
type Always struct{}

func (Always) Reachable(context.Context) bool { return true }
