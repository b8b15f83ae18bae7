// Package client talks to a running hippocampus server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/lazypower/hippocampus/internal/assemble"
	"github.com/lazypower/hippocampus/internal/consolidate"
	"github.com/lazypower/hippocampus/internal/engine"
	"github.com/lazypower/hippocampus/internal/thread"
)

const (
	defaultServerURL = "http://127.0.0.1:37778"
	httpTimeout      = 30 * time.Second
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// Client is a thin JSON client for the server API.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for serverURL. An empty URL uses HIPPO_URL, then
// http://127.0.0.1:37778.
func New(serverURL string) *Client {
	if serverURL == "" {
		serverURL = os.Getenv("HIPPO_URL")
	}
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: serverURL,
	}
}

// URL returns the server base URL.
func (c *Client) URL() string { return c.serverURL }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, rd)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(data)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response %s: %w", path, err)
		}
	}
	return nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil) == nil
}

// Context assembles context for query.
func (c *Client) Context(ctx context.Context, query string, level assemble.Level, budget int) (*assemble.Result, error) {
	req := map[string]any{"query": query, "level": level.String(), "budget": budget}
	var res assemble.Result
	if err := c.do(ctx, http.MethodPost, "/api/context", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Observation is an observation as the server reports it.
type Observation struct {
	ID         int64          `json:"id"`
	Text       string         `json:"text"`
	Source     string         `json:"source"`
	SessionID  string         `json:"session_id"`
	Status     string         `json:"status"`
	Confidence float64        `json:"confidence"`
	Score      *float64       `json:"score,omitempty"`
	TargetKey  string         `json:"target_key,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	FactID     int64          `json:"fact_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// Fact is a fact as the server reports it.
type Fact struct {
	ID          int64   `json:"id"`
	Key         string  `json:"key"`
	ProfileID   string  `json:"profile_id"`
	FactKey     string  `json:"fact_key"`
	Domain      string  `json:"domain"`
	Brief       string  `json:"brief,omitempty"`
	Standard    string  `json:"standard,omitempty"`
	Full        string  `json:"full,omitempty"`
	Weight      float64 `json:"weight"`
	Protected   bool    `json:"protected"`
	AccessCount int     `json:"access_count"`
	UpdatedAt   int64   `json:"updated_at"`
}

// Observe records an observation and returns its id.
func (c *Client) Observe(ctx context.Context, text, source, sessionID string, metadata map[string]any) (int64, error) {
	req := map[string]any{"text": text, "source": source, "session_id": sessionID, "metadata": metadata}
	var res struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/observations", req, &res); err != nil {
		return 0, err
	}
	return res.ID, nil
}

// Observations lists observations in the given statuses.
func (c *Client) Observations(ctx context.Context, limit int, statuses ...string) ([]Observation, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	for _, s := range statuses {
		if q.Has("status") {
			q.Set("status", q.Get("status")+","+s)
		} else {
			q.Set("status", s)
		}
	}
	path := "/api/observations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var res struct {
		Observations []Observation `json:"observations"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Observations, nil
}

// Approve approves an observation.
func (c *Client) Approve(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/observations/%d/approve", id), nil, nil)
}

// Reject rejects an observation.
func (c *Client) Reject(ctx context.Context, id int64, reason string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/observations/%d/reject", id),
		map[string]string{"reason": reason}, nil)
}

// Promote promotes an observation now. The fact is nil when the observation
// scored too low and was discarded.
func (c *Client) Promote(ctx context.Context, id int64) (*Fact, error) {
	var res struct {
		Fact *Fact `json:"fact"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/observations/%d/promote", id), nil, &res); err != nil {
		return nil, err
	}
	return res.Fact, nil
}

// SearchResult is one ranked fact.
type SearchResult struct {
	Key      string  `json:"key"`
	Score    float64 `json:"score"`
	Fallback bool    `json:"fallback"`
	Fact     Fact    `json:"fact"`
}

// Search ranks facts against query.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var res struct {
		Results []SearchResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/facts/search?"+q.Encode(), nil, &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

// Forget deletes a fact.
func (c *Client) Forget(ctx context.Context, profileID, key string) error {
	return c.do(ctx, http.MethodDelete, "/api/facts/"+url.PathEscape(profileID)+"/"+url.PathEscape(key), nil, nil)
}

// Protect sets or clears a fact's protected flag.
func (c *Client) Protect(ctx context.Context, profileID, key string, protected bool) error {
	return c.do(ctx, http.MethodPost, "/api/facts/"+url.PathEscape(profileID)+"/"+url.PathEscape(key)+"/protect",
		map[string]bool{"protected": protected}, nil)
}

// ThreadHealth reports every thread's availability.
func (c *Client) ThreadHealth(ctx context.Context) (map[string]thread.Status, error) {
	var res map[string]thread.Status
	if err := c.do(ctx, http.MethodGet, "/api/threads/health", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Stats fetches engine counters.
func (c *Client) Stats(ctx context.Context) (*engine.Stats, error) {
	var res engine.Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Jobs reports the background jobs.
func (c *Client) Jobs(ctx context.Context) ([]consolidate.JobStatus, error) {
	var res struct {
		Jobs []consolidate.JobStatus `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/jobs", nil, &res); err != nil {
		return nil, err
	}
	return res.Jobs, nil
}

// RunJob runs a background job on the server and returns its status.
func (c *Client) RunJob(ctx context.Context, name string) (*consolidate.JobStatus, error) {
	var res consolidate.JobStatus
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(name)+"/run", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Ingest asks the server to ingest a transcript file on its filesystem.
func (c *Client) Ingest(ctx context.Context, path, sessionID string) (*engine.IngestResult, error) {
	var res engine.IngestResult
	err := c.do(ctx, http.MethodPost, "/api/ingest", map[string]string{"path": path, "session_id": sessionID}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
