// Package remote is the HTTP client of the remote scheduling authority.
//
// Every response uses the authority's envelope:
//
//	{"success": true, "data": ...}
//	{"success": false, "error": "message"}
//
// Requests carry the bearer credential from an auth.Source. A 401 drops a
// cached credential so the next request fetches a fresh one.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/theatresync/internal/auth"
	"github.com/roach88/theatresync/internal/domain"
	"github.com/roach88/theatresync/internal/state"
)

// DefaultHTTPTimeout bounds one HTTP exchange. Command deadlines are
// usually shorter and win.
const DefaultHTTPTimeout = 30 * time.Second

// APIError is a non-success reply from the authority.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authority returned %d", e.Status)
	}
	return fmt.Sprintf("authority returned %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type invalidator interface {
	Invalidate()
}

// Client talks to the authority's REST API.
type Client struct {
	base   *url.URL
	http   *http.Client
	tokens auth.Source
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for the authority at baseURL.
func New(baseURL string, tokens auth.Source, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse authority url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("authority url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: DefaultHTTPTimeout},
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchState returns the authority's full state.
func (c *Client) FetchState(ctx context.Context) (state.Snapshot, error) {
	var snap state.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/state", nil, &snap); err != nil {
		return state.Snapshot{}, fmt.Errorf("fetch state: %w", err)
	}
	return snap.Sorted(), nil
}

// CreateCase creates a case. The authority may assign a different id.
func (c *Client) CreateCase(ctx context.Context, kase domain.Case) (domain.Case, error) {
	var out domain.Case
	if err := c.do(ctx, http.MethodPost, "/api/cases", kase, &out); err != nil {
		return domain.Case{}, fmt.Errorf("create case: %w", err)
	}
	return out, nil
}

// UpdateCase replaces a case.
func (c *Client) UpdateCase(ctx context.Context, kase domain.Case) (domain.Case, error) {
	var out domain.Case
	if err := c.do(ctx, http.MethodPut, "/api/cases/"+url.PathEscape(kase.ID), kase, &out); err != nil {
		return domain.Case{}, fmt.Errorf("update case %s: %w", kase.ID, err)
	}
	return out, nil
}

// DeleteCase permanently deletes a case.
func (c *Client) DeleteCase(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/cases/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete case %s: %w", id, err)
	}
	return nil
}

// CreateSchedule creates a schedule. The authority may assign a different id.
func (c *Client) CreateSchedule(ctx context.Context, s domain.CaseSchedule) (domain.CaseSchedule, error) {
	var out domain.CaseSchedule
	if err := c.do(ctx, http.MethodPost, "/api/schedules", s, &out); err != nil {
		return domain.CaseSchedule{}, fmt.Errorf("create schedule: %w", err)
	}
	return out, nil
}

// UpdateSchedule replaces a schedule.
func (c *Client) UpdateSchedule(ctx context.Context, s domain.CaseSchedule) (domain.CaseSchedule, error) {
	var out domain.CaseSchedule
	if err := c.do(ctx, http.MethodPut, "/api/schedules/"+url.PathEscape(s.ID), s, &out); err != nil {
		return domain.CaseSchedule{}, fmt.Errorf("update schedule %s: %w", s.ID, err)
	}
	return out, nil
}

// DeleteSchedule deletes a schedule.
func (c *Client) DeleteSchedule(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/schedules/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	return nil
}

// ReorderRequest is the body of a bulk reorder.
type ReorderRequest struct {
	IDs []string `json:"ids"`
}

// ReorderSchedules sets a session's order and returns the normalized set.
func (c *Client) ReorderSchedules(ctx context.Context, sessionID string, ids []string) ([]domain.CaseSchedule, error) {
	var out []domain.CaseSchedule
	path := "/api/sessions/" + url.PathEscape(sessionID) + "/schedules/reorder"
	if err := c.do(ctx, http.MethodPost, path, ReorderRequest{IDs: ids}, &out); err != nil {
		return nil, fmt.Errorf("reorder session %s: %w", sessionID, err)
	}
	return out, nil
}

// response is the authority's reply envelope.
type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("bearer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env response
	decErr := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&env)

	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := c.tokens.(invalidator); ok {
			inv.Invalidate()
		}
	}
	if resp.StatusCode >= 300 || (decErr == nil && !env.Success) {
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	if decErr != nil {
		return fmt.Errorf("decode response: %w", decErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
