package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/fjod/go_cart/cart-api/internal/log"
)

var errMalformedEvent = errors.New("malformed checkout event")

// CartClearer empties a user's cart once their checkout completes.
type CartClearer interface {
	ClearCart(ctx context.Context, userID string) (bool, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
	// Attempts bounds how often a failed clear is retried before the event is skipped.
	Attempts int
	Backoff  time.Duration
}

type checkoutEvent struct {
	CheckoutID string `json:"checkout_id"`
	UserID     string `json:"user_id"`
}

// Poller consumes checkout-completed events and clears the buyer's cart.
type Poller struct {
	carts    CartClearer
	reader   messageReader
	attempts int
	backoff  time.Duration
	logger   zerolog.Logger
}

func NewPoller(carts CartClearer, cfg Config, logger zerolog.Logger) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return newPoller(carts, reader, cfg, logger)
}

func newPoller(carts CartClearer, reader messageReader, cfg Config, logger zerolog.Logger) *Poller {
	if cfg.Attempts < 1 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &Poller{
		carts:    carts,
		reader:   reader,
		attempts: cfg.Attempts,
		backoff:  cfg.Backoff,
		logger:   logger.With().Str(log.KeyTag, "poller").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		m, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error().Err(err).Msg("failed reading message")
			sleep(ctx, p.backoff)
			continue
		}

		p.process(ctx, m)

		if err := p.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			p.logger.Error().Err(err).Int64("offset", m.Offset).Msg("failed committing message")
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.logger.Error().Err(err).Msg("error closing reader")
	}
}

// process never fails the loop: malformed events are dropped and clears that keep
// failing are logged once attempts run out.
func (p *Poller) process(ctx context.Context, m kafka.Message) {
	logger := p.logger.With().
		Str("topic", m.Topic).
		Int("partition", m.Partition).
		Int64("offset", m.Offset).
		Logger()

	event, err := decodeEvent(m.Value)
	if err != nil {
		logger.Warn().Err(err).Msg("skipping message")
		return
	}
	logger = logger.With().Str(log.KeyUserID, event.UserID).Str("checkoutId", event.CheckoutID).Logger()
	ctx = logger.WithContext(ctx)

	for attempt := 1; attempt <= p.attempts; attempt++ {
		cleared, err := p.carts.ClearCart(ctx, event.UserID)
		if err == nil {
			logger.Info().Bool("cleared", cleared).Msg("cart emptied after checkout")
			return
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("failed to clear cart")
		if attempt < p.attempts && !sleep(ctx, p.backoff) {
			return
		}
	}
	logger.Error().Msg("giving up on clearing cart")
}

func decodeEvent(value []byte) (checkoutEvent, error) {
	var event checkoutEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return event, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if event.UserID == "" {
		return event, fmt.Errorf("%w: missing user_id", errMalformedEvent)
	}
	return event, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
