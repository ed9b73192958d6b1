package ragdex

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Client.
type Option interface {
	apply(*clientConfig)
}

type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	httpClient *http.Client
	apiKey     string
	timeout    time.Duration
	logger     *slog.Logger
}

// WithHTTPClient replaces the underlying HTTP client. Useful for custom
// transports, proxies, or tracing.
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *clientConfig) {
		if hc != nil {
			c.httpClient = hc
		}
	})
}

// WithAPIKey sets the bearer token sent on every request.
func WithAPIKey(key string) Option {
	return optionFunc(func(c *clientConfig) {
		c.apiKey = key
	})
}

// WithTimeout sets the per-request timeout of the built-in HTTP client.
// Ignored when WithHTTPClient is also given.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.timeout = d
	})
}

// WithLogger attaches a logger for request-level debug output.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		if l != nil {
			c.logger = l
		}
	})
}
