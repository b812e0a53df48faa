// Package semanticscholar implements internal/sources.BibliographicSource
// against the Semantic Scholar Graph API, the primary bibliographic
// source. Each call is a plain JSON REST request; retries and lane
// admission are the caller's (internal/selector) responsibility.
package semanticscholar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rcliao/briefkg/internal/sources"
)

const baseURL = "https://api.semanticscholar.org/graph/v1"

// Client is a thin REST client over the Semantic Scholar Graph API.
type Client struct {
	httpClient *http.Client
	apiKey     string // optional; unauthenticated requests are rate-limited harder
}

// New builds a Semantic Scholar client. apiKey may be empty.
func New(apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     apiKey,
	}
}

func (c *Client) Name() string { return "semanticscholar" }

type paperResponse struct {
	PaperID  string   `json:"paperId"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract"`
	Year     int      `json:"year"`
	Authors  []author `json:"authors"`
	// externalIds values are mixed string/number (CorpusId is numeric), so
	// they decode as any and are stringified in toCandidate.
	ExternalIDs map[string]any `json:"externalIds"`
}

type author struct {
	Name string `json:"name"`
}

func toCandidate(p paperResponse) sources.Candidate {
	authors := make([]string, 0, len(p.Authors))
	for _, a := range p.Authors {
		authors = append(authors, a.Name)
	}
	ext := make(map[string]string, len(p.ExternalIDs)+1)
	for k, v := range p.ExternalIDs {
		ext[k] = fmt.Sprintf("%v", v)
	}
	ext["semanticscholar"] = p.PaperID
	return sources.Candidate{
		SourceID:    p.PaperID,
		Title:       p.Title,
		Abstract:    p.Abstract,
		Year:        p.Year,
		Authors:     authors,
		ExternalIDs: ext,
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("semanticscholar: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("semanticscholar: read body: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, newTransportError(resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("semanticscholar: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

const fields = "paperId,title,abstract,year,authors,externalIds"

// LookupSeed resolves a seed by title via the /paper/search endpoint,
// returning the top match. authors is not sent and does not affect the
// match.
func (c *Client) LookupSeed(ctx context.Context, title string, authors []string) (sources.Candidate, error) {
	q := url.Values{}
	q.Set("query", title)
	q.Set("fields", fields)
	q.Set("limit", "1")

	body, err := c.get(ctx, "/paper/search", q)
	if err != nil {
		return sources.Candidate{}, err
	}

	var result struct {
		Data []paperResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return sources.Candidate{}, fmt.Errorf("semanticscholar: decode search response: %w", err)
	}
	if len(result.Data) == 0 {
		return sources.Candidate{}, fmt.Errorf("semanticscholar: no match for seed %q", title)
	}
	return toCandidate(result.Data[0]), nil
}

// Citations returns papers that cite seedSourceID.
func (c *Client) Citations(ctx context.Context, seedSourceID string) ([]sources.Candidate, error) {
	q := url.Values{}
	q.Set("fields", "citingPaper."+fields)
	body, err := c.get(ctx, "/paper/"+url.PathEscape(seedSourceID)+"/citations", q)
	if err != nil {
		return nil, err
	}
	return decodeNested(body, "citingPaper")
}

// References returns papers seedSourceID cites.
func (c *Client) References(ctx context.Context, seedSourceID string) ([]sources.Candidate, error) {
	q := url.Values{}
	q.Set("fields", "citedPaper."+fields)
	body, err := c.get(ctx, "/paper/"+url.PathEscape(seedSourceID)+"/references", q)
	if err != nil {
		return nil, err
	}
	return decodeNested(body, "citedPaper")
}

// KeywordQuery runs a keyword search on the /paper/search endpoint,
// returning up to 50 results.
func (c *Client) KeywordQuery(ctx context.Context, query string) ([]sources.Candidate, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("fields", fields)
	q.Set("limit", strconv.Itoa(50))

	body, err := c.get(ctx, "/paper/search", q)
	if err != nil {
		return nil, err
	}
	var result struct {
		Data []paperResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("semanticscholar: decode search response: %w", err)
	}
	out := make([]sources.Candidate, 0, len(result.Data))
	for _, p := range result.Data {
		out = append(out, toCandidate(p))
	}
	return out, nil
}

func decodeNested(body []byte, field string) ([]sources.Candidate, error) {
	var result struct {
		Data []map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("semanticscholar: decode nested response: %w", err)
	}
	out := make([]sources.Candidate, 0, len(result.Data))
	for _, row := range result.Data {
		raw, ok := row[field]
		if !ok {
			continue
		}
		var p paperResponse
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		if p.PaperID == "" {
			continue
		}
		out = append(out, toCandidate(p))
	}
	return out, nil
}
