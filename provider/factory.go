package provider

import (
	"searchrelay/config"
	"searchrelay/model"
)

// FromConfig builds the guarded provider for a config entry.
func FromConfig(cfg config.ProviderConfig) (*Provider, error) {
	var backend Backend
	switch cfg.Kind {
	case "httpjson":
		backend = NewHTTPAPIBackend(cfg)
	case "htmlpage":
		backend = NewHTMLPageBackend(cfg)
	default:
		return nil, &model.ConfigurationError{Provider: cfg.Name, Field: "kind", Reason: "unknown kind " + cfg.Kind}
	}
	return New(backend, cfg), nil
}
