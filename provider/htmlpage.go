package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"searchrelay/config"
	"searchrelay/model"
)

// HTMLPageBackend scrapes an HTML results page (DuckDuckGo HTML style
// markup). Outbound calls are paced with a token-bucket limiter so the scrape
// target is never hammered, independent of the provider's fixed-window quota.
type HTMLPageBackend struct {
	cfg     config.ProviderConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTMLPageBackend(cfg config.ProviderConfig) *HTMLPageBackend {
	pace := time.Second
	if cfg.RateLimit.Requests > 0 && cfg.RateLimit.Window > 0 {
		pace = cfg.RateLimit.Window / time.Duration(cfg.RateLimit.Requests)
	}
	return &HTMLPageBackend{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(pace), 1),
	}
}

func (b *HTMLPageBackend) Name() string { return b.cfg.Name }

func (b *HTMLPageBackend) Capabilities() Capabilities {
	return Capabilities{
		MaxResults:   b.cfg.MaxResults,
		RateLimit:    b.cfg.RateLimit.Requests,
		Technologies: b.cfg.Technologies,
		Reliability:  b.cfg.Reliability,
	}
}

func (b *HTMLPageBackend) ValidateConfig() error {
	if b.cfg.Endpoint == "" {
		return &model.ConfigurationError{Provider: b.cfg.Name, Field: "endpoint", Reason: "required"}
	}
	u, err := url.Parse(b.cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &model.ConfigurationError{Provider: b.cfg.Name, Field: "endpoint", Reason: "not a valid absolute URL"}
	}
	return nil
}

func (b *HTMLPageBackend) Search(ctx context.Context, opts model.SearchOptions) (*model.SearchResults, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("pacing wait: %w", err)
	}

	doc, err := b.fetch(ctx, opts.Query)
	if err != nil {
		return nil, err
	}

	var results []model.SearchResult
	doc.Find("div.result").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if opts.MaxResults > 0 && len(results) >= opts.MaxResults {
			return false
		}
		link := sel.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		target := resolveRedirect(href)
		if target == "" {
			return true
		}
		results = append(results, model.SearchResult{
			Title:       strings.TrimSpace(link.Text()),
			URL:         target,
			Snippet:     strings.TrimSpace(sel.Find(".result__snippet").First().Text()),
			ContentType: "webpage",
			// Scraped pages carry no score; decay by position instead.
			Relevance: clamp01(1.0 - float64(len(results))*0.05),
			Rank:      len(results) + 1,
		})
		return true
	})

	return &model.SearchResults{Results: results, Total: len(results)}, nil
}

func (b *HTMLPageBackend) fetch(ctx context.Context, query string) (*goquery.Document, error) {
	u := fmt.Sprintf("%s?q=%s", b.cfg.Endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	for k, v := range b.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &model.RateLimitExceededError{
			Provider:   b.cfg.Name,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func (b *HTMLPageBackend) CheckHealth(ctx context.Context) model.HealthCheck {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.cfg.Endpoint, nil)
	if err != nil {
		return model.HealthCheck{Status: model.StatusUnhealthy, Message: err.Error(), Timestamp: time.Now()}
	}
	resp, err := b.client.Do(req)
	elapsed := time.Since(start)

	chk := model.HealthCheck{
		Status:       model.StatusHealthy,
		ResponseTime: elapsed,
		Timestamp:    time.Now(),
	}
	if err != nil {
		chk.Status = model.StatusUnhealthy
		chk.Message = err.Error()
		return chk
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		chk.Status = model.StatusUnhealthy
		chk.Message = fmt.Sprintf("status %d", resp.StatusCode)
	} else if resp.StatusCode == http.StatusTooManyRequests {
		chk.Status = model.StatusDegraded
		chk.Message = "rate limited"
	}
	return chk
}

// resolveRedirect unwraps DuckDuckGo-style /l/?uddg= redirect links; direct
// links pass through unchanged.
func resolveRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		if decoded, derr := url.QueryUnescape(target); derr == nil {
			return decoded
		}
		return target
	}
	if u.Scheme == "" || u.Host == "" {
		return ""
	}
	return href
}
