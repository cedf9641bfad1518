package remote

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/telemetry"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client for making requests.
// This is useful for testing, proxying, or custom transport configurations.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
// If not set, defaults to 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithPaths overrides the endpoint paths. Empty fields keep their default.
func WithPaths(p Paths) Option {
	return func(c *Client) {
		if p.Cart != "" {
			c.paths.Cart = p.Cart
		}
		if p.Add != "" {
			c.paths.Add = p.Add
		}
		if p.Remove != "" {
			c.paths.Remove = p.Remove
		}
		if p.Orders != "" {
			c.paths.Orders = p.Orders
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records every call on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTracer sets the tracer used for call spans. Defaults to the global
// provider's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}
