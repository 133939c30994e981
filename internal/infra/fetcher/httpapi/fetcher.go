// Package httpapi fetches billing histories from a JSON billing API.
//
// Expected endpoint:
//
//	GET {base}/bills/{id}
//	  -> {"id": "...", "history": [{"month": "JAN-2024", "amount": "1,234.00"}, ...]}
//
// A bare array of history rows is accepted as well.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/billharvest/internal/domain/harvest"
	"github.com/ahrav/billharvest/pkg/common"
	"github.com/ahrav/billharvest/pkg/common/logger"
	"github.com/ahrav/billharvest/pkg/common/otel"
)

const maxBodyBytes = 4 << 20

var _ harvest.Fetcher = (*Fetcher)(nil)

// ErrUnexpectedStatus is returned for any non-2xx response.
var ErrUnexpectedStatus = errors.New("unexpected http status")

// Config configures the billing API client.
type Config struct {
	BaseURL string
	APIKey  string
	// HealthPath, when set, is requested by Open to verify the API is up.
	HealthPath string
	Timeout    time.Duration
	UserAgent  string
	RateLimit  float64
	Burst      int
}

// Fetcher opens sessions against the billing API. Every session shares one
// rate limiter so reopened sessions cannot exceed the configured pace.
type Fetcher struct {
	cfg     Config
	base    *url.URL
	client  *http.Client
	limiter *common.RateLimiter
	logger  *logger.Logger
}

// New validates cfg and builds a Fetcher. tp instruments the HTTP transport.
func New(cfg Config, tp trace.TracerProvider, log *logger.Logger) (*Fetcher, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("base url is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "billharvest/1.0"
	}

	return &Fetcher{
		cfg:  cfg,
		base: base,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otel.HTTPTransport(http.DefaultTransport, tp),
		},
		limiter: common.NewRateLimiter(cfg.RateLimit, cfg.Burst),
		logger:  log.With("component", "http_fetcher"),
	}, nil
}

// Open returns a session. When a health path is configured it must answer
// with a 2xx first.
func (f *Fetcher) Open(ctx context.Context) (harvest.FetchSession, error) {
	if f.cfg.HealthPath != "" {
		if _, err := f.get(ctx, f.cfg.HealthPath); err != nil {
			return nil, fmt.Errorf("billing api health check: %w", err)
		}
	}
	f.logger.Info(ctx, "Billing API session opened", "base_url", f.base.String())
	return &session{fetcher: f}, nil
}

type session struct {
	fetcher *Fetcher
}

type historyRow struct {
	Month  string          `json:"month"`
	Amount json.RawMessage `json:"amount"`
}

type billResponse struct {
	ID      string       `json:"id"`
	History []historyRow `json:"history"`
}

// Fetch retrieves the billing history of id.
func (s *session) Fetch(ctx context.Context, id harvest.WorkItem) (harvest.ItemResult, error) {
	body, err := s.fetcher.get(ctx, "/bills/"+url.PathEscape(id.String()))
	if err != nil {
		return nil, err
	}

	rows, err := decodeHistory(body)
	if err != nil {
		return nil, fmt.Errorf("decode history for %s: %w", id, err)
	}

	res := make(harvest.ItemResult, len(rows))
	for _, r := range rows {
		month := strings.TrimSpace(r.Month)
		if month == "" {
			continue
		}
		res[month] = parseAmount(r.Amount)
	}
	if len(res) == 0 {
		return nil, harvest.ErrNoData
	}
	return res, nil
}

func (s *session) Close() error {
	s.fetcher.client.CloseIdleConnections()
	return nil
}

func (f *Fetcher) get(ctx context.Context, path string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base.String()+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	if f.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, path)
	}
	return body, nil
}

func decodeHistory(body []byte) ([]historyRow, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var rows []historyRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}

	var resp billResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// parseAmount accepts the amount either as a JSON number or as the string the
// portal renders.
func parseAmount(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return harvest.ParseAmount(s)
	}
	return harvest.ParseAmount(string(raw))
}
