package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCircuitOpen = errors.New("circuit open")
	ErrNoProviders = errors.New("no providers available")
)

// ProviderError marks a named provider's failure so the registry and the
// orchestrator can feed their failover and breaker logic.
type ProviderError struct {
	Provider  string
	Err       error
	Fallbacks []string
}

func (e *ProviderError) Error() string {
	if len(e.Fallbacks) > 0 {
		return fmt.Sprintf("provider %s: %v (fallbacks: %v)", e.Provider, e.Err, e.Fallbacks)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

type RateLimitExceededError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("provider %s: rate limit exceeded, retry after %s", e.Provider, e.RetryAfter)
}

type SearchTimeoutError struct {
	Op         string
	Configured time.Duration
	Elapsed    time.Duration
	Partial    *SearchResults
}

func (e *SearchTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s (configured %s)", e.Op, e.Elapsed, e.Configured)
}

// CacheError is non-fatal: searches continue without cache benefit.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// ConfigurationError is fatal at provider registration time only.
type ConfigurationError struct {
	Provider string
	Field    string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("provider %s: invalid %s: %s", e.Provider, e.Field, e.Reason)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Reason)
}
