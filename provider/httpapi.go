package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"searchrelay/config"
	"searchrelay/model"
)

// HTTPAPIBackend adapts a generic JSON search API: GET endpoint with q/count
// parameters plus any configured extras, JSON body with a results array.
type HTTPAPIBackend struct {
	cfg    config.ProviderConfig
	client *http.Client
}

type apiResponse struct {
	Results []apiResult `json:"results"`
	Total   int         `json:"total"`
}

type apiResult struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Snippet     string  `json:"snippet"`
	ContentType string  `json:"content_type"`
	Score       float64 `json:"score"`
	PublishedAt string  `json:"published_at"`
	Author      string  `json:"author"`
	Thumbnail   string  `json:"thumbnail"`
}

func NewHTTPAPIBackend(cfg config.ProviderConfig) *HTTPAPIBackend {
	return &HTTPAPIBackend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (b *HTTPAPIBackend) Name() string { return b.cfg.Name }

func (b *HTTPAPIBackend) Capabilities() Capabilities {
	return Capabilities{
		MaxResults:       b.cfg.MaxResults,
		RateLimit:        b.cfg.RateLimit.Requests,
		SupportedFilters: []string{"locale", "safe_search"},
		Technologies:     b.cfg.Technologies,
		Reliability:      b.cfg.Reliability,
	}
}

func (b *HTTPAPIBackend) ValidateConfig() error {
	if b.cfg.Endpoint == "" {
		return &model.ConfigurationError{Provider: b.cfg.Name, Field: "endpoint", Reason: "required"}
	}
	u, err := url.Parse(b.cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &model.ConfigurationError{Provider: b.cfg.Name, Field: "endpoint", Reason: "not a valid absolute URL"}
	}
	return nil
}

func (b *HTTPAPIBackend) Search(ctx context.Context, opts model.SearchOptions) (*model.SearchResults, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var resp *apiResponse
	var err error
	attempts := b.cfg.MaxRetries + 1
	for i := 0; i < attempts; i++ {
		resp, err = b.doSearch(ctx, opts)
		if err == nil || ctx.Err() != nil {
			break
		}
		// Retry-After style errors are terminal; only transport/5xx retried.
		if _, ok := err.(*model.RateLimitExceededError); ok {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	results := make([]model.SearchResult, 0, len(resp.Results))
	for i, r := range resp.Results {
		sr := model.SearchResult{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Snippet,
			ContentType: r.ContentType,
			Relevance:   clamp01(r.Score),
			Rank:        i + 1,
			Author:      r.Author,
			Thumbnail:   r.Thumbnail,
		}
		if r.PublishedAt != "" {
			if ts, perr := time.Parse(time.RFC3339, r.PublishedAt); perr == nil {
				sr.PublishedAt = &ts
			}
		}
		results = append(results, sr)
	}

	total := resp.Total
	if total < len(results) {
		total = len(results)
	}
	return &model.SearchResults{
		Results:   results,
		Total:     total,
		Truncated: total > len(results),
	}, nil
}

func (b *HTTPAPIBackend) doSearch(ctx context.Context, opts model.SearchOptions) (*apiResponse, error) {
	q := url.Values{}
	q.Set("q", opts.Query)
	q.Set("count", strconv.Itoa(opts.MaxResults))
	if opts.Locale != "" {
		q.Set("locale", opts.Locale)
	}
	if opts.SafeSearch {
		q.Set("safe", "1")
	}
	for k, v := range b.cfg.Params {
		q.Set(k, v)
	}
	for k, v := range opts.Params {
		q.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "searchrelay/1.0")
	req.Header.Set("Accept", "application/json")
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}
	for k, v := range b.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &model.RateLimitExceededError{
			Provider:   b.cfg.Name,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &body, nil
}

func (b *HTTPAPIBackend) CheckHealth(ctx context.Context) model.HealthCheck {
	start := time.Now()
	_, err := b.doSearch(ctx, model.SearchOptions{Query: "ping", MaxResults: 1})
	elapsed := time.Since(start)

	chk := model.HealthCheck{
		Status:       model.StatusHealthy,
		ResponseTime: elapsed,
		Timestamp:    time.Now(),
	}
	if err != nil {
		if _, ok := err.(*model.RateLimitExceededError); ok {
			chk.Status = model.StatusDegraded
		} else {
			chk.Status = model.StatusUnhealthy
		}
		chk.Message = err.Error()
	}
	return chk
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
