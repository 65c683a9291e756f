package creditcard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"tillcore/backend/internal/metrics"
)

// ErrGatewayUnavailable is returned while the breaker is open.
var ErrGatewayUnavailable = gobreaker.ErrOpenState

type BreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// BreakerGateway guards a Gateway with a circuit breaker. Business answers
// (unknown card, insufficient balance) count as successes; only transport
// failures trip the breaker.
type BreakerGateway struct {
	next    Gateway
	breaker *gobreaker.CircuitBreaker[bool]
	name    string
}

func NewBreakerGateway(next Gateway, cfg BreakerConfig, logger *slog.Logger) *BreakerGateway {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotRegistered) || errors.Is(err, ErrInsufficientBalance)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}
	metrics.BreakerState.WithLabelValues(cfg.Name).Set(0)

	return &BreakerGateway{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[bool](settings),
		name:    cfg.Name,
	}
}

func (g *BreakerGateway) IsValidNumber(number string) bool {
	return g.next.IsValidNumber(number)
}

func (g *BreakerGateway) IsRegistered(ctx context.Context, number string) (bool, error) {
	return g.breaker.Execute(func() (bool, error) {
		return g.next.IsRegistered(ctx, number)
	})
}

func (g *BreakerGateway) HasEnoughBalance(ctx context.Context, number string, amount decimal.Decimal) (bool, error) {
	return g.breaker.Execute(func() (bool, error) {
		return g.next.HasEnoughBalance(ctx, number, amount)
	})
}

func (g *BreakerGateway) UpdateBalance(ctx context.Context, number string, delta decimal.Decimal) error {
	_, err := g.breaker.Execute(func() (bool, error) {
		return true, g.next.UpdateBalance(ctx, number, delta)
	})
	return err
}

func (g *BreakerGateway) State() gobreaker.State {
	return g.breaker.State()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
