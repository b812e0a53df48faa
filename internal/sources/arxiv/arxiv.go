// Package arxiv implements internal/sources.FulltextSource against the
// arXiv Atom export API, the secondary full-text source. Primary parsing
// is the Atom feed; an HTML scrape of the arXiv search page via goquery
// backs seed lookup and the category query when the Atom query returns
// nothing.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/rcliao/briefkg/internal/graph"
	"github.com/rcliao/briefkg/internal/sources"
)

const exportBase = "http://export.arxiv.org/api/query"

// Client queries the arXiv export API.
type Client struct {
	httpClient *http.Client
}

// New builds an arXiv client.
func New() *Client {
	return &Client{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) Name() string { return "arxiv" }

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Authors   []atomAuthor `xml:"author"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

func toCandidate(e atomEntry) sources.Candidate {
	id := arxivID(e.ID)
	authors := make([]string, 0, len(e.Authors))
	for _, a := range e.Authors {
		authors = append(authors, strings.TrimSpace(a.Name))
	}
	year := 0
	if len(e.Published) >= 4 {
		if y, err := strconv.Atoi(e.Published[:4]); err == nil {
			year = y
		}
	}
	return sources.Candidate{
		SourceID:    id,
		Title:       strings.TrimSpace(strings.ReplaceAll(e.Title, "\n", " ")),
		Abstract:    strings.TrimSpace(strings.ReplaceAll(e.Summary, "\n", " ")),
		Year:        year,
		Authors:     authors,
		ExternalIDs: map[string]string{"arxiv": id},
	}
}

func arxivID(atomURL string) string {
	parts := strings.Split(strings.TrimSuffix(atomURL, "/"), "/")
	return parts[len(parts)-1]
}

func (c *Client) query(ctx context.Context, searchQuery string, max int) ([]sources.Candidate, error) {
	q := url.Values{}
	q.Set("search_query", searchQuery)
	q.Set("max_results", strconv.Itoa(max))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exportBase+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, graph.New(graph.KindTransport, "transport_timeout", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("arxiv: read body: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, graph.New(graph.KindTransport, fmt.Sprintf("http_%d", resp.StatusCode), fmt.Errorf("arxiv: http %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv: unexpected status %d", resp.StatusCode)
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("arxiv: decode atom feed: %w", err)
	}
	out := make([]sources.Candidate, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		out = append(out, toCandidate(e))
	}
	return out, nil
}

// LookupSeed resolves a seed by title search, falling back to an
// HTML-scraped arXiv search results page if the Atom query returns nothing.
func (c *Client) LookupSeed(ctx context.Context, title string, authors []string) (sources.Candidate, error) {
	cands, err := c.query(ctx, fmt.Sprintf("ti:%q", title), 1)
	if err != nil {
		return sources.Candidate{}, err
	}
	if len(cands) > 0 {
		return cands[0], nil
	}
	cands, err = c.scrapeSearch(ctx, title, 1)
	if err != nil {
		return sources.Candidate{}, err
	}
	if len(cands) == 0 {
		return sources.Candidate{}, fmt.Errorf("arxiv: no match for seed %q", title)
	}
	return cands[0], nil
}

// TitleQuery searches by title.
func (c *Client) TitleQuery(ctx context.Context, title string) ([]sources.Candidate, error) {
	return c.query(ctx, fmt.Sprintf("ti:%q", title), 50)
}

// AuthorQuery searches by author name.
func (c *Client) AuthorQuery(ctx context.Context, author string) ([]sources.Candidate, error) {
	return c.query(ctx, fmt.Sprintf("au:%q", author), 50)
}

// CategoryQuery searches by arXiv category (e.g. "cs.CV"), falling back to
// an HTML scrape of the arXiv search page for the category string if the
// Atom API returns nothing.
func (c *Client) CategoryQuery(ctx context.Context, category string) ([]sources.Candidate, error) {
	cands, err := c.query(ctx, fmt.Sprintf("cat:%s", category), 50)
	if err != nil {
		return nil, err
	}
	if len(cands) > 0 {
		return cands, nil
	}
	return c.scrapeSearch(ctx, category, 50)
}

// scrapeSearch is the goquery-based fallback over arXiv's HTML search UI,
// used only when the structured Atom API comes back empty.
func (c *Client) scrapeSearch(ctx context.Context, query string, max int) ([]sources.Candidate, error) {
	u := "https://arxiv.org/search/?query=" + url.QueryEscape(query) + "&searchtype=all"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv: build scrape request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, graph.New(graph.KindTransport, "transport_timeout", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("arxiv: parse search page: %w", err)
	}

	var out []sources.Candidate
	doc.Find("li.arxiv-result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(out) >= max {
			return false
		}
		idLink := strings.TrimSpace(s.Find("p.list-title a").First().Text())
		id := strings.TrimPrefix(idLink, "arXiv:")
		title := strings.TrimSpace(s.Find("p.title").First().Text())
		abstract := strings.TrimSpace(s.Find("p.abstract span.abstract-full").First().Text())
		if id == "" || title == "" {
			return true
		}
		out = append(out, sources.Candidate{
			SourceID:    id,
			Title:       title,
			Abstract:    abstract,
			ExternalIDs: map[string]string{"arxiv": id},
		})
		return true
	})
	return out, nil
}
