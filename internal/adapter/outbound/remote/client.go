// Package remote implements the remote cart gateway and the order service
// client over the cart service's JSON HTTP API.
package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/cart"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/session"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/telemetry"
)

const (
	instrumentationName = "github.com/Tetsuuya/tasty-kitchen-3/internal/adapter/outbound/remote"

	// maxResponseBodySize caps how much of a response is read.
	maxResponseBodySize = 10 * 1024 * 1024 // 10MB

	// maxMessageLen caps a non-JSON error body surfaced as the message.
	maxMessageLen = 200

	defaultTimeout = 10 * time.Second
)

// Paths are the endpoint paths relative to the base URL. Remove must
// contain the {product_id} placeholder.
type Paths struct {
	Cart   string
	Add    string
	Remove string
	Orders string
}

// DefaultPaths matches the cart service's routes.
func DefaultPaths() Paths {
	return Paths{
		Cart:   "/cart/",
		Add:    "/cart/add/",
		Remove: "/cart/remove/{product_id}/",
		Orders: "/orders/create/",
	}
}

// Client talks to the remote cart service. It implements
// outbound.CartGateway and outbound.Checkouter.
type Client struct {
	baseURL    string
	paths      Paths
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
	duration   metric.Float64Histogram
}

// NewClient creates a client for the service rooted at baseURL
// (for example "http://localhost:8000/api").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		paths:   DefaultPaths(),
		timeout: defaultTimeout,
		logger:  slog.Default(),
		tracer:  otel.Tracer(instrumentationName),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	hist, err := otel.Meter(instrumentationName).Float64Histogram(
		"cartsync.gateway.duration",
		metric.WithDescription("Remote cart call duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		c.logger.Warn("failed to create gateway histogram", "error", err)
	}
	c.duration = hist

	return c
}

// call describes one remote request.
type call struct {
	op     string
	method string
	path   string
	body   any
	result any
	header http.Header
}

// do performs an authenticated request and classifies its failure.
func (c *Client) do(ctx context.Context, sess session.Session, rc call) (err error) {
	ctx, span := c.tracer.Start(ctx, "remote."+rc.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", rc.method),
			attribute.String("url.path", rc.path),
			attribute.String("cart.identity", sess.Identity),
		),
	)
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		label := resultLabel(err)
		c.metrics.ObserveGateway(rc.op, label, elapsed)
		if c.duration != nil {
			c.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attribute.String("op", rc.op),
				attribute.String("result", label),
			))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, label)
		}
		span.End()
	}()

	if sess.Credential == "" {
		return &cart.GatewayError{Kind: cart.ErrUnauthorized, Op: rc.op, Message: "missing credential"}
	}

	var bodyReader io.Reader
	if rc.body != nil {
		jsonBody, err := json.Marshal(rc.body)
		if err != nil {
			return &cart.GatewayError{Kind: cart.ErrInvalid, Op: rc.op, Cause: fmt.Errorf("failed to marshal request body: %w", err)}
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, rc.method, c.baseURL+rc.path, bodyReader)
	if err != nil {
		return &cart.GatewayError{Kind: cart.ErrInvalid, Op: rc.op, Cause: fmt.Errorf("failed to create request: %w", err)}
	}

	requestID := uuid.NewString()
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+sess.Credential)
	httpReq.Header.Set("X-Request-ID", requestID)
	if rc.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range rc.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	span.SetAttributes(attribute.String("http.request_id", requestID))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &cart.GatewayError{Kind: cart.ErrUnavailable, Op: rc.op, Cause: err}
	}
	defer httpResp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", httpResp.StatusCode))

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBodySize+1))
	if err != nil {
		return &cart.GatewayError{Kind: cart.ErrUnavailable, Op: rc.op, StatusCode: httpResp.StatusCode, Cause: fmt.Errorf("failed to read response body: %w", err)}
	}
	if len(respBody) > maxResponseBodySize {
		return &cart.GatewayError{Kind: cart.ErrUnavailable, Op: rc.op, StatusCode: httpResp.StatusCode, Cause: errors.New("response body exceeds 10MB")}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		gwErr := &cart.GatewayError{
			Kind:       classifyStatus(httpResp.StatusCode),
			Op:         rc.op,
			StatusCode: httpResp.StatusCode,
			Message:    serverMessage(respBody),
			Cause:      fmt.Errorf("server returned %d", httpResp.StatusCode),
		}
		c.logger.DebugContext(ctx, "remote cart call failed",
			"op", rc.op,
			"status", httpResp.StatusCode,
			"request_id", requestID,
			"message", gwErr.Message,
		)
		return gwErr
	}

	if rc.result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, rc.result); err != nil {
			return &cart.GatewayError{Kind: cart.ErrUnavailable, Op: rc.op, StatusCode: httpResp.StatusCode, Cause: fmt.Errorf("failed to unmarshal response: %w", err)}
		}
	}
	return nil
}

// classifyStatus maps an HTTP status onto the error taxonomy.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return cart.ErrUnauthorized
	case code == http.StatusNotFound:
		return cart.ErrNotFound
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return cart.ErrUnavailable
	case code >= 400 && code < 500:
		return cart.ErrInvalid
	default:
		return cart.ErrUnavailable
	}
}

// serverMessage extracts the human-readable failure text: the first
// non-empty of message, detail and error in a JSON object body, else the
// trimmed text body.
func serverMessage(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		for _, key := range []string{"message", "detail", "error"} {
			if s, ok := obj[key].(string); ok && s != "" {
				return s
			}
		}
		return ""
	}
	if trimmed[0] == '<' {
		// HTML error pages carry no useful message.
		return ""
	}
	s := string(trimmed)
	if len(s) > maxMessageLen {
		s = s[:maxMessageLen]
	}
	return s
}

// resultLabel is the metric label for a call outcome.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, cart.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, cart.ErrNotFound):
		return "not_found"
	case errors.Is(err, cart.ErrInvalid):
		return "invalid"
	default:
		return "unavailable"
	}
}
