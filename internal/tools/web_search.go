package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultSearchCount = 5
	maxSearchCount     = 10
	searchTimeout      = 20 * time.Second
	webSearchUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// SearchProvider is one web search backend.
type SearchProvider interface {
	Search(ctx context.Context, query string, count int) ([]SearchHit, error)
	Name() string
}

// SearchHit is one search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// WebSearch tries its providers in order and caches answers by query.
type WebSearch struct {
	providers []SearchProvider
	cache     *webCache
	count     int
}

// WebSearchOptions configure NewWebSearch.
type WebSearchOptions struct {
	BraveAPIKey string
	DuckDuckGo  bool
	MaxResults  int
	CacheTTL    time.Duration
	HTTPClient  *http.Client
}

// NewWebSearch returns nil when no provider is enabled. Brave is preferred
// over DuckDuckGo when a key is configured.
func NewWebSearch(opts WebSearchOptions) *WebSearch {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: searchTimeout}
	}
	var providers []SearchProvider
	if opts.BraveAPIKey != "" {
		providers = append(providers, &braveProvider{apiKey: opts.BraveAPIKey, client: client, endpoint: braveEndpoint})
	}
	if opts.DuckDuckGo {
		providers = append(providers, &duckDuckGoProvider{client: client, endpoint: ddgEndpoint})
	}
	return NewWebSearchWith(opts.MaxResults, opts.CacheTTL, providers...)
}

// NewWebSearchWith builds a WebSearch over explicit providers.
func NewWebSearchWith(maxResults int, ttl time.Duration, providers ...SearchProvider) *WebSearch {
	if len(providers) == 0 {
		return nil
	}
	if maxResults <= 0 || maxResults > maxSearchCount {
		maxResults = defaultSearchCount
	}
	return &WebSearch{
		providers: providers,
		cache:     newWebCache(defaultCacheEntries, ttl),
		count:     maxResults,
	}
}

var errNoSearchProvider = errors.New("no search provider succeeded")

// Search returns up to count hits for query.
func (w *WebSearch) Search(ctx context.Context, query string, count int) ([]SearchHit, string, error) {
	if count <= 0 || count > maxSearchCount {
		count = w.count
	}
	key := fmt.Sprintf("%d:%s", count, strings.ToLower(strings.TrimSpace(query)))
	if e, ok := w.cache.get(key); ok {
		slog.Debug("web_search cache hit", "query", query)
		return e.hits, e.provider, nil
	}
	var errs []error
	for _, p := range w.providers {
		hits, err := p.Search(ctx, query, count)
		if err != nil {
			slog.Warn("web_search provider failed", "provider", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		w.cache.set(key, cacheEntry{hits: hits, provider: p.Name()})
		return hits, p.Name(), nil
	}
	return nil, "", errors.Join(append([]error{errNoSearchProvider}, errs...)...)
}

// WebSearchQuery is the web_search argument record.
type WebSearchQuery struct {
	Query string `json:"query" jsonschema:"required"`
	Count int    `json:"count,omitempty" jsonschema_description:"number of results (1-10)"`
}

func (a *WebSearchQuery) Validate() *Result {
	if strings.TrimSpace(a.Query) == "" {
		return Failure(CodeBadInput, "query is required")
	}
	return nil
}

func newWebSearchTool(w *WebSearch) Tool {
	return NewTool(ToolWebSearch,
		"Search the web for current information. Returns titles, URLs and snippets.",
		func(ctx context.Context, a WebSearchQuery, _ *Scope) *Result {
			hits, provider, err := w.Search(ctx, a.Query, a.Count)
			if err != nil {
				return Failure(CodeFetchFailed, "web search failed: %v", err)
			}
			if hits == nil {
				hits = []SearchHit{}
			}
			return Success("").With("query", a.Query).With("provider", provider).With("results", hits)
		})
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
