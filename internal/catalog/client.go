package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fjod/go_cart/cart-api/internal/domain"
	"github.com/fjod/go_cart/cart-api/internal/log"
	"github.com/fjod/go_cart/cart-api/internal/metrics"
	"github.com/fjod/go_cart/cart-api/internal/telemetry"
)

const maxResponseBytes = 1 << 20

type Config struct {
	BaseURL string
	// Timeout bounds one lookup, including reading the body.
	Timeout            time.Duration
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
}

// Client looks products up in the product catalog service. Lookups are wrapped in a
// circuit breaker that only counts the catalog being unreachable as a failure.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*domain.Product]
	metrics *metrics.Metrics
}

func NewClient(cfg Config, m *metrics.Metrics) *Client {
	return newClient(cfg, m, otelhttp.NewTransport(http.DefaultTransport))
}

func newClient(cfg Config, m *metrics.Metrics, transport http.RoundTripper) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    &http.Client{Transport: transport},
		breaker: newBreaker("catalog", cfg.BreakerFailures, cfg.BreakerOpenTimeout, m),
		metrics: m,
	}
}

type productEnvelope struct {
	Product *domain.Product `json:"product"`
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// FetchProduct returns the catalog's current view of productID. credential is forwarded
// as a bearer token.
//
// Errors: domain.ErrNotFound when the catalog answers 404, *domain.UpstreamRejectedError for
// any other non-success answer, domain.ErrUpstreamUnavailable when no answer arrives.
func (c *Client) FetchProduct(ctx context.Context, productID, credential string) (*domain.Product, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "catalog.FetchProduct",
		trace.WithAttributes(attribute.String("product.id", productID)))
	defer span.End()

	logger := zerolog.Ctx(ctx).With().
		Str(log.KeyTag, "catalog.FetchProduct").
		Str(log.KeyProductID, productID).
		Logger()

	start := time.Now()
	product, err := c.breaker.Execute(func() (*domain.Product, error) {
		return c.fetch(ctx, productID, credential)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	c.metrics.CatalogRequest(outcome(err), time.Since(start))

	if err != nil {
		telemetry.RecordError(err, span)
		logger.Warn().Err(err).Msg("product lookup failed")
		return nil, err
	}
	logger.Debug().Int("stock", product.Stock).Msg("product fetched")
	return product, nil
}

// CheckStock fetches productID and verifies that at least requested units are in stock.
// The product is returned alongside *domain.InsufficientStockError so callers can report
// its name.
func (c *Client) CheckStock(ctx context.Context, productID string, requested int, credential string) (*domain.Product, error) {
	product, err := c.FetchProduct(ctx, productID, credential)
	if err != nil {
		return nil, err
	}
	if product.Stock < requested {
		return product, &domain.InsufficientStockError{
			ProductName: product.Name,
			Available:   product.Stock,
			Requested:   requested,
		}
	}
	return product, nil
}

func (c *Client) fetch(ctx context.Context, productID, credential string) (*domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/products/" + url.PathEscape(productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", domain.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", domain.ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("product %w", domain.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &domain.UpstreamRejectedError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	var envelope productEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Product == nil || envelope.Product.ID == "" {
		return nil, &domain.UpstreamRejectedError{StatusCode: resp.StatusCode}
	}
	return envelope.Product, nil
}

func errorMessage(body []byte) string {
	var e errorEnvelope
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrUpstreamRejected):
		return "rejected"
	default:
		return "unavailable"
	}
}
