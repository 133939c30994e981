package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type controlResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id"`
}

type statusResponse struct {
	Status         string `json:"status"`
	LastProcessed  int    `json:"last_processed"`
	TotalProcessed int    `json:"total_processed"`
	ElapsedTime    string `json:"elapsed_time"`
	RunID          string `json:"run_id"`
	LastOutcome    string `json:"last_outcome"`
	LastError      string `json:"last_error"`
	Message        string `json:"message"`
}

type client struct {
	base string
	http *http.Client
}

func newClient(base string, timeout time.Duration) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// control posts to /v1/harvest/{action}. A rejected request is returned as an
// error carrying the server's message.
func (c *client) control(ctx context.Context, action string) (controlResponse, error) {
	var resp controlResponse
	body, code, err := c.do(ctx, http.MethodPost, "/v1/harvest/"+action)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, fmt.Errorf("%s: unexpected response (%d): %s", action, code, strings.TrimSpace(string(body)))
	}
	if code >= http.StatusBadRequest || resp.Status != "success" {
		return resp, fmt.Errorf("%s rejected (%d): %s", action, code, resp.Message)
	}
	return resp, nil
}

func (c *client) status(ctx context.Context) (statusResponse, []byte, error) {
	var st statusResponse
	body, code, err := c.do(ctx, http.MethodGet, "/v1/harvest/status")
	if err != nil {
		return st, nil, err
	}
	if code != http.StatusOK {
		return st, nil, fmt.Errorf("status: unexpected response (%d)", code)
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return st, nil, fmt.Errorf("status: decode response: %w", err)
	}
	return st, body, nil
}

func (c *client) do(ctx context.Context, method, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("contacting harvester at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func printControl(w io.Writer, r controlResponse) error {
	line := r.Message
	if line == "" {
		line = r.Status
	}
	if r.RunID != "" {
		line += " (run " + r.RunID + ")"
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func printStatus(w io.Writer, s statusResponse) error {
	var b strings.Builder
	fmt.Fprintf(&b, "state:           %s\n", s.Status)
	fmt.Fprintf(&b, "last processed:  %d\n", s.LastProcessed)
	fmt.Fprintf(&b, "total processed: %d\n", s.TotalProcessed)
	if s.ElapsedTime != "" {
		fmt.Fprintf(&b, "elapsed:         %s\n", s.ElapsedTime)
	}
	if s.RunID != "" {
		fmt.Fprintf(&b, "run:             %s\n", s.RunID)
	}
	if s.LastOutcome != "" {
		fmt.Fprintf(&b, "last outcome:    %s\n", s.LastOutcome)
	}
	if s.LastError != "" {
		fmt.Fprintf(&b, "last error:      %s\n", s.LastError)
	}
	if s.Message != "" {
		fmt.Fprintf(&b, "note:            %s\n", s.Message)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
