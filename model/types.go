package model

import (
	"net/url"
	"strings"
	"time"
)

type SearchOptions struct {
	Query      string            `json:"query"`
	MaxResults int               `json:"max_results"`
	Locale     string            `json:"locale,omitempty"`
	SafeSearch bool              `json:"safe_search,omitempty"`
	Timeout    time.Duration     `json:"-"`
	Params     map[string]string `json:"params,omitempty"`
}

type SearchResult struct {
	Title        string            `json:"title"`
	URL          string            `json:"url"`
	Snippet      string            `json:"snippet"`
	ContentType  string            `json:"content_type,omitempty"`
	SourceDomain string            `json:"source_domain,omitempty"`
	Relevance    float64           `json:"relevance"`
	Rank         int               `json:"rank"`
	PublishedAt  *time.Time        `json:"published_at,omitempty"`
	Author       string            `json:"author,omitempty"`
	Thumbnail    string            `json:"thumbnail,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Domain returns the source domain, deriving it from the URL when unset.
func (r *SearchResult) Domain() string {
	if r.SourceDomain != "" {
		return r.SourceDomain
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

type SearchResults struct {
	Results         []SearchResult `json:"results"`
	Total           int            `json:"total"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	Provider        string         `json:"provider,omitempty"`
	Error           string         `json:"error,omitempty"`
	Truncated       bool           `json:"truncated,omitempty"`
	CacheHit        bool           `json:"cache_hit,omitempty"`
	TraceID         string         `json:"trace_id,omitempty"`
}

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HealthStatus values double as trend scores, so the numeric order matters.
type HealthStatus int

const (
	StatusUnknown   HealthStatus = 0
	StatusUnhealthy HealthStatus = 1
	StatusDegraded  HealthStatus = 2
	StatusHealthy   HealthStatus = 3
)

func (s HealthStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

func (s HealthStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
	TrendVolatile  Trend = "volatile"
)

type HealthCheck struct {
	Status              HealthStatus  `json:"status"`
	ResponseTime        time.Duration `json:"-"`
	ResponseTimeMs      int64         `json:"response_time_ms"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	ErrorRate           float64       `json:"error_rate"`
	Circuit             CircuitState  `json:"circuit_state"`
	Timestamp           time.Time     `json:"timestamp"`
	Message             string        `json:"message,omitempty"`
}

type AlertType string

const (
	AlertProviderDown      AlertType = "provider_down"
	AlertHealthDegrading   AlertType = "health_degrading"
	AlertProviderRecovered AlertType = "provider_recovered"
)

type Alert struct {
	Provider  string    `json:"provider_id"`
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type ProviderHealth struct {
	Status              HealthStatus `json:"status"`
	Trend               Trend        `json:"trend"`
	Availability        float64      `json:"availability"`
	AvgLatencyMs        int64        `json:"avg_latency_ms"`
	FailurePattern      string       `json:"failure_pattern,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastCheck           time.Time    `json:"last_check"`
}

type HealthSummary struct {
	Overall   HealthStatus              `json:"overall_status"`
	Providers map[string]ProviderHealth `json:"providers"`
	Alerts    []Alert                   `json:"alerts"`
	CheckedAt time.Time                 `json:"checked_at"`
}

type SearchRequest struct {
	Query      string   `json:"query"`
	TechHint   string   `json:"tech_hint,omitempty"`
	MaxResults int      `json:"max_results,omitempty"`
	Providers  []string `json:"providers,omitempty"`
	Locale     string   `json:"locale,omitempty"`
	SafeSearch bool     `json:"safe_search,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type ProviderPerformance struct {
	Status       HealthStatus `json:"status"`
	ErrorRate    float64      `json:"error_rate"`
	AvgLatencyMs int64        `json:"avg_latency_ms"`
	Circuit      CircuitState `json:"circuit_state"`
	Enabled      bool         `json:"enabled"`
	Priority     int          `json:"priority"`
}
