package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated        = errors.New("user not authenticated")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrNotFound               = errors.New("not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrUpstreamUnavailable    = errors.New("failed to connect to product service")
	ErrUpstreamRejected       = errors.New("product service rejected the request")
	ErrConcurrentModification = errors.New("cart was modified concurrently, please retry")
)

type InsufficientStockError struct {
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for product: %s. Available: %d", e.ProductName, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// UpstreamRejectedError is a non-success answer from the catalog. Message is whatever the
// catalog reported and is safe to show to the caller.
type UpstreamRejectedError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamRejectedError) Error() string {
	if e.Message == "" {
		return "Failed to fetch product details"
	}
	return e.Message
}

func (e *UpstreamRejectedError) Is(target error) bool {
	return target == ErrUpstreamRejected
}
