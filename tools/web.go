package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/martinemde/sourceagent/agentloop"
)

const (
	defaultSearchResults = 5
	maxSearchBodySize    = 2 * 1024 * 1024 // 2 MB
)

// SearchResult is one hit returned by web_search_tool.
type SearchResult struct {
	Title string `json:"title"`
	Href  string `json:"href"`
	Body  string `json:"body"`
}

func (w *Workspace) webSearchTool() agentloop.RegisteredTool {
	return agentloop.RegisteredTool{
		Definition: definition(WebSearchToolName,
			"Search the web and return the top results with title, URL and snippet.",
			schema(map[string]any{
				"query":       prop("string", "The search query."),
				"max_results": prop("integer", "Maximum number of results. Default: 5."),
			}, "query"),
		),
		Func: func(ctx context.Context, args map[string]any) (any, error) {
			query := strings.TrimSpace(stringArg(args, "query", ""))
			if query == "" {
				return failure("query is required"), nil
			}
			limit, ok := agentloop.GetIntArg(args, "max_results")
			if !ok || limit <= 0 {
				limit = defaultSearchResults
			}

			results, err := w.Search(ctx, query, limit)
			if err != nil {
				msg := fmt.Sprintf("Search failed: %v", err)
				return map[string]any{"success": false, "content": []string{msg}, "error": msg}, nil
			}
			return success(map[string]any{"query": query, "content": results}), nil
		},
	}
}

// Search queries the configured HTML search endpoint and scrapes up to
// limit results from the page.
func (w *Workspace) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	endpoint, err := url.Parse(w.searchEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("q", query)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; sourceagent/1.0)")
	req.Header.Set("Accept", "text/html")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}

	var results []SearchResult
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find(".result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		if title == "" || href == "" {
			return true
		}
		results = append(results, SearchResult{
			Title: title,
			Href:  resolveResultLink(href),
			Body:  strings.TrimSpace(s.Find(".result__snippet").First().Text()),
		})
		return len(results) < limit
	})
	return results, nil
}

// resolveResultLink unwraps redirect links of the form /l/?uddg=<target>.
func resolveResultLink(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}
