package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	braveEndpoint = "https://api.search.brave.com/res/v1/web/search"
	ddgEndpoint   = "https://html.duckduckgo.com/html/"
	maxSearchBody = 2 << 20
)

type braveProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func (p *braveProvider) Name() string { return "brave" }

func (p *braveProvider) Search(ctx context.Context, query string, count int) ([]SearchHit, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	q.Set("search_lang", "he")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	body, err := doSearch(p.client, req)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	hits := make([]SearchHit, 0, len(resp.Web.Results))
	for _, r := range resp.Web.Results {
		hits = append(hits, SearchHit{Title: r.Title, URL: r.URL, Snippet: stripTags(r.Description)})
	}
	return hits, nil
}

type duckDuckGoProvider struct {
	endpoint string
	client   *http.Client
}

func (p *duckDuckGoProvider) Name() string { return "duckduckgo" }

func (p *duckDuckGoProvider) Search(ctx context.Context, query string, count int) ([]SearchHit, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?q="+url.QueryEscape(query)+"&kl=il-he", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", webSearchUserAgent)
	body, err := doSearch(p.client, req)
	if err != nil {
		return nil, err
	}
	return parseDDG(string(body), count), nil
}

func doSearch(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncateStr(string(body), 200))
	}
	return body, nil
}

var (
	ddgLinkRe    = regexp.MustCompile(`<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>([\s\S]*?)</a>`)
	ddgSnippetRe = regexp.MustCompile(`<a class="result__snippet[^"]*".*?>([\s\S]*?)</a>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
)

func stripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(htmlTagRe.ReplaceAllString(s, "")))
}

// parseDDG reads results from the DuckDuckGo HTML endpoint. Result links
// are redirects carrying the target in the uddg parameter.
func parseDDG(page string, count int) []SearchHit {
	links := ddgLinkRe.FindAllStringSubmatch(page, count)
	snippets := ddgSnippetRe.FindAllStringSubmatch(page, count)
	hits := make([]SearchHit, 0, len(links))
	for i, m := range links {
		target := html.UnescapeString(m[1])
		if u, err := url.Parse(target); err == nil {
			if dest := u.Query().Get("uddg"); dest != "" {
				target = dest
			}
		}
		h := SearchHit{Title: stripTags(m[2]), URL: target}
		if i < len(snippets) {
			h.Snippet = stripTags(snippets[i][1])
		}
		hits = append(hits, h)
	}
	return hits
}
