// Package financeapi is the HTTP client of the remote finance API that owns
// every transaction.
package financeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"finboard/internal/core"
)

const (
	transactionsPath = "/transactions/"
	summaryPath      = "/transactions/summary"
	budgetStatusPath = "/budget/status"

	maxErrorBody = 512
)

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// StatusCode returns the HTTP status the API answered with.
func (e *StatusError) StatusCode() int {
	return e.Code
}

// Client talks to the finance API rooted at a base URL.
type Client struct {
	base *url.URL
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for baseURL. Requests are traced through otelhttp;
// deadlines come from the caller's context.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse finance API URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("finance API URL %q: unsupported scheme %q", baseURL, u.Scheme)
	}
	c := &Client{
		base: u,
		http: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the API root the client was built with.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// ListTransactions fetches every transaction.
func (c *Client) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	var txs []core.Transaction
	if err := c.do(ctx, http.MethodGet, transactionsPath, nil, &txs); err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []core.Transaction{}
	}
	return txs, nil
}

// Summary fetches the totals over all transactions.
func (c *Client) Summary(ctx context.Context) (core.Summary, error) {
	var s core.Summary
	err := c.do(ctx, http.MethodGet, summaryPath, nil, &s)
	return s, err
}

// CreateTransaction posts a new transaction. The response body is not used.
func (c *Client) CreateTransaction(ctx context.Context, p core.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	return c.do(ctx, http.MethodPost, transactionsPath, body, nil)
}

// BudgetStatus fetches the per-category budget report, sorted by category.
func (c *Client) BudgetStatus(ctx context.Context) ([]core.BudgetStatus, error) {
	var raw map[string]struct {
		Limit     float64 `json:"limit"`
		Spent     float64 `json:"spent"`
		Remaining float64 `json:"remaining"`
	}
	if err := c.do(ctx, http.MethodGet, budgetStatusPath, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]core.BudgetStatus, 0, len(raw))
	for name, b := range raw {
		out = append(out, core.BudgetStatus{Category: name, Limit: b.Limit, Spent: b.Spent, Remaining: b.Remaining})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rdr)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
