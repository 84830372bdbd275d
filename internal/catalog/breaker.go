package catalog

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/fjod/go_cart/cart-api/internal/domain"
	"github.com/fjod/go_cart/cart-api/internal/metrics"
)

func newBreaker(name string, failures uint32, openTimeout time.Duration, m *metrics.Metrics) *gobreaker.CircuitBreaker[*domain.Product] {
	if failures == 0 {
		failures = 5
	}
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker[*domain.Product](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			m.BreakerOpen(name, to == gobreaker.StateOpen)
		},
		IsSuccessful: countsAsHealthy,
	})
}

// countsAsHealthy treats any answer below 500 as proof that the catalog is up, so a
// burst of unknown product ids cannot open the breaker.
func countsAsHealthy(err error) bool {
	if err == nil {
		return true
	}
	var rejected *domain.UpstreamRejectedError
	if errors.As(err, &rejected) {
		return rejected.StatusCode < 500
	}
	return !errors.Is(err, domain.ErrUpstreamUnavailable)
}
