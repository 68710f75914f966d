// Package amber is a client for the Amber Electric REST API.
package amber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/jgoulah/gridcache/internal/interval"
)

// DefaultBaseURL is the production API root
const DefaultBaseURL = "https://api.amber.com.au/v1"

const dateLayout = "2006-01-02"

// APIError represents a non-2xx response from the API
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// IsAuth reports whether the API rejected the credentials
func (e *APIError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsAuthError reports whether err wraps an authentication failure
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsAuth()
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to the Amber API with a bearer token
type Client struct {
	baseURL   string
	token     string
	http      *http.Client
	location  *time.Location
	now       func() time.Time
	chunkDays int
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL overrides the API root
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLocation sets the zone used to pick "today" for usage requests
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithNow overrides the time source
func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithChunkDays sets how many days each range request covers
func WithChunkDays(days int) Option {
	return func(c *Client) {
		if days > 0 {
			c.chunkDays = days
		}
	}
}

// New creates a client for the given API token
func New(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("amber API token is required")
	}

	c := &Client{
		baseURL:   DefaultBaseURL,
		token:     token,
		http:      &http.Client{Timeout: 30 * time.Second},
		location:  time.UTC,
		now:       time.Now,
		chunkDays: 7,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Sites lists the sites visible to the token
func (c *Client) Sites(ctx context.Context) ([]Site, error) {
	var sites []Site
	if err := c.get(ctx, "/sites", nil, &sites); err != nil {
		return nil, err
	}
	return sites, nil
}

// PricesCurrent returns the current interval and near-term forecasts. Sites
// whose account lacks the current endpoint are served from the generic prices
// endpoint instead.
func (c *Client) PricesCurrent(ctx context.Context, siteID string) ([]RawPrice, error) {
	params := url.Values{}
	params.Set("next", "12")

	var prices []RawPrice
	err := c.get(ctx, sitePath(siteID, "prices/current"), params, &prices)
	if err == nil {
		return prices, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	params.Set("previous", "0")
	prices = nil
	if err := c.get(ctx, sitePath(siteID, "prices"), params, &prices); err != nil {
		return nil, err
	}
	return prices, nil
}

// PricesRange returns prices between two dates inclusive, requested in chunks
func (c *Client) PricesRange(ctx context.Context, siteID string, from, to time.Time) ([]RawPrice, error) {
	var all []RawPrice
	for _, chunk := range chunkDates(from, to, c.chunkDays) {
		params := url.Values{}
		params.Set("startDate", chunk[0].Format(dateLayout))
		params.Set("endDate", chunk[1].Format(dateLayout))

		var prices []RawPrice
		if err := c.get(ctx, sitePath(siteID, "prices"), params, &prices); err != nil {
			return nil, fmt.Errorf("fetching prices %s..%s: %w", chunk[0].Format(dateLayout), chunk[1].Format(dateLayout), err)
		}
		all = append(all, prices...)
	}
	return all, nil
}

// UsageRange returns metered usage between two dates inclusive, requested in chunks
func (c *Client) UsageRange(ctx context.Context, siteID string, from, to time.Time) ([]RawUsage, error) {
	var all []RawUsage
	for _, chunk := range chunkDates(from, to, c.chunkDays) {
		usage, err := c.usageForDates(ctx, siteID, chunk[0], chunk[1])
		if err != nil {
			return nil, fmt.Errorf("fetching usage %s..%s: %w", chunk[0].Format(dateLayout), chunk[1].Format(dateLayout), err)
		}
		all = append(all, usage...)
	}
	return all, nil
}

// UsageRecent returns the newest n usage records. Usage for today is often
// not published yet, so an empty or failed answer for today falls back to
// yesterday.
func (c *Client) UsageRecent(ctx context.Context, siteID string, n int) ([]RawUsage, error) {
	if n <= 0 {
		n = 1
	}
	today := c.now().In(c.location)

	var lastErr error
	for _, day := range []time.Time{today, today.AddDate(0, 0, -1)} {
		usage, err := c.usageForDates(ctx, siteID, day, day)
		if err != nil {
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				return nil, err
			}
			lastErr = err
			continue
		}
		if len(usage) == 0 {
			continue
		}

		sort.SliceStable(usage, func(i, j int) bool {
			return endOf(usage[i]).After(endOf(usage[j]))
		})
		if len(usage) > n {
			usage = usage[:n]
		}
		return usage, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

func (c *Client) usageForDates(ctx context.Context, siteID string, from, to time.Time) ([]RawUsage, error) {
	params := url.Values{}
	params.Set("startDate", from.Format(dateLayout))
	params.Set("endDate", to.Format(dateLayout))

	var usage []RawUsage
	if err := c.get(ctx, sitePath(siteID, "usage"), params, &usage); err != nil {
		return nil, err
	}
	return usage, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL = fmt.Sprintf("%s?%s", reqURL, params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{
			Method:     req.Method,
			URL:        path,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	return decodeList(body, out)
}

// decodeList unmarshals a JSON array into out. A bare object is treated as a
// single-element array.
func decodeList(body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		trimmed = append(append([]byte{'['}, trimmed...), ']')
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// endOf returns the parsed end time of a usage record, zero when unparseable
func endOf(u RawUsage) time.Time {
	t, err := interval.Parse(u.EndTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

func sitePath(siteID, suffix string) string {
	return "/sites/" + url.PathEscape(siteID) + "/" + suffix
}

// chunkDates splits the inclusive day range [from, to] into pieces of at most
// days days each.
func chunkDates(from, to time.Time, days int) [][2]time.Time {
	if days <= 0 {
		days = 7
	}
	start := truncateDay(from)
	end := truncateDay(to)

	var chunks [][2]time.Time
	for !start.After(end) {
		chunkEnd := start.AddDate(0, 0, days-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, [2]time.Time{start, chunkEnd})
		start = chunkEnd.AddDate(0, 0, 1)
	}
	return chunks
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
