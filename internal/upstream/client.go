// Package upstream is the HTTP client for the marketplace trade API.
//
// Two calls make up a lookup: a search returning result ids, then a fetch
// of those ids. The fetch depends on the search, so only the fetch chunks
// run concurrently. Failures are returned immediately; there are no retries.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/exiletrade/deal-engine/internal/metrics"
	"github.com/exiletrade/deal-engine/internal/model"
	"github.com/exiletrade/deal-engine/internal/reference"
)

const (
	// Timeout applies to every outbound call.
	Timeout = 20 * time.Second

	// FetchChunkSize is the most ids the fetch endpoint accepts per call.
	FetchChunkSize = 10
)

// Search fields for name-based searches.
const (
	FieldType = "type"
	FieldName = "name"
)

// SearchResult is the search endpoint's reply.
type SearchResult struct {
	ID     string    `json:"id"`
	Result ResultIDs `json:"result"`
	Total  int       `json:"total"`
}

// ResultIDs is the search reply's id list. The marketplace sends string
// ids, but numeric ids are accepted and kept as their literal text.
type ResultIDs []string

func (r *ResultIDs) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ids := make([]string, 0, len(raw))
	for _, item := range raw {
		if string(item) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			ids = append(ids, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err != nil {
			return fmt.Errorf("result id %s: %w", item, err)
		}
		ids = append(ids, n.String())
	}
	*r = ids
	return nil
}

type fetchResult struct {
	Result []model.RawListingNode `json:"result"`
}

type searchRequest struct {
	Query searchQuery       `json:"query"`
	Sort  map[string]string `json:"sort"`
}

type searchQuery struct {
	Status struct {
		Option string `json:"option"`
	} `json:"status"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// Client calls the marketplace API rooted at baseURL.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewClient creates a client with the fixed outbound timeout.
func NewClient(baseURL, userAgent string) *Client {
	return &Client{
		baseURL:   baseURL,
		userAgent: userAgent,
		http: &http.Client{
			Timeout: Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	}
}

// SearchByID re-runs a saved search.
func (c *Client) SearchByID(ctx context.Context, ref reference.Reference) (*SearchResult, error) {
	var res SearchResult
	if err := c.do(ctx, "search", http.MethodGet, ref.SearchPath(), nil, &res); err != nil {
		return nil, err
	}
	if res.ID == "" {
		res.ID = ref.QueryID
	}
	return &res, nil
}

// SearchByName runs an online-only, price-ascending search for item.
// field selects whether item is matched against the unique name or the
// base type.
func (c *Client) SearchByName(ctx context.Context, realm, league, item, field string) (*SearchResult, error) {
	req := searchRequest{Sort: map[string]string{"price": "asc"}}
	req.Query.Status.Option = "online"
	if field == FieldName {
		req.Query.Name = item
	} else {
		req.Query.Type = item
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal search: %w", err)
	}

	path := fmt.Sprintf("search/%s/%s", url.PathEscape(realm), url.PathEscape(league))
	var res SearchResult
	if err := c.do(ctx, "search", http.MethodPost, path, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Fetch returns the raw listing nodes for ids, in id order. Ids are split
// into chunks the API accepts and the chunks are fetched concurrently;
// the first failure cancels the rest.
func (c *Client) Fetch(ctx context.Context, ids []string, queryID string) ([]model.RawListingNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var chunks [][]string
	for start := 0; start < len(ids); start += FetchChunkSize {
		end := min(start+FetchChunkSize, len(ids))
		chunks = append(chunks, ids[start:end])
	}

	results := make([][]model.RawListingNode, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			var res fetchResult
			if err := c.do(gctx, "fetch", http.MethodGet, reference.FetchPath(chunk, queryID), nil, &res); err != nil {
				return err
			}
			results[i] = res.Result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	nodes := make([]model.RawListingNode, 0, len(ids))
	for _, r := range results {
		nodes = append(nodes, r...)
	}
	return nodes, nil
}

// do performs one call and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.UpstreamCalls.WithLabelValues(op, outcome).Inc()
		metrics.UpstreamLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		outcome = "transport_error"
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		outcome = "transport_error"
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome = "transport_error"
		return &TransportError{Op: op, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome = fmt.Sprintf("http_%d", resp.StatusCode)
		return &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(data), MaxErrorBody)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		outcome = "transport_error"
		return &TransportError{Op: op, Err: fmt.Errorf("parsing response: %w", err)}
	}
	return nil
}
