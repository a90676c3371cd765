// Package pipeline runs one exchange stream end to end: supervised transport,
// normalization, window aggregation and sink dispatch, as a single sequential
// task per exchange.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/exchange"
)

// ErrRetriesExhausted is the terminal failure after maxRetries consecutive
// failed connection attempts. It must surface at the process boundary: a
// silently dead pipeline causes undetected data gaps, so a visible crash is
// the better failure mode.
var ErrRetriesExhausted = errors.New("connection retries exhausted")

// State is the supervisor's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Subscribed
	Streaming
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Streaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

// SupervisorConfig carries the reconnect and keepalive policy.
type SupervisorConfig struct {
	Symbols        []string
	MaxRetries     uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ReceiveTimeout time.Duration
	PingTimeout    time.Duration
}

// Supervisor owns the reconnect, backoff and keepalive policy around one
// StreamSource and feeds received frames to a handler in arrival order.
type Supervisor struct {
	name   string
	source exchange.StreamSource
	cfg    SupervisorConfig
	log    *zap.Logger

	state      State
	retryCount uint

	// sleep is the backoff wait; replaced in tests to observe delays.
	sleep func(ctx context.Context, d time.Duration) error

	// onReconnect fires once per retry attempt, for metrics.
	onReconnect func()
}

func NewSupervisor(name string, source exchange.StreamSource, cfg SupervisorConfig, log *zap.Logger) *Supervisor {
	return &Supervisor{
		name:   name,
		source: source,
		cfg:    cfg,
		log:    log,
		sleep:  sleepCtx,
	}
}

// SetReconnectHook registers a callback invoked on every retry attempt.
func (s *Supervisor) SetReconnectHook(fn func()) {
	s.onReconnect = fn
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return s.state
}

// Run drives the connection state machine until the context is cancelled or
// retries are exhausted. Every received frame is passed to handle; handle must
// not retain the frame slice past its return.
func (s *Supervisor) Run(ctx context.Context, handle func(ctx context.Context, frame []byte)) error {
	defer func() {
		s.state = Disconnected
		_ = s.source.Close()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.retryCount >= s.cfg.MaxRetries {
			return fmt.Errorf("%s: %w after %d attempts", s.name, ErrRetriesExhausted, s.cfg.MaxRetries)
		}
		if s.retryCount > 0 {
			delay := s.backoffDelay(s.retryCount - 1)
			s.log.Info("waiting before reconnect",
				zap.String("source", s.name),
				zap.Duration("delay", delay),
				zap.Uint("attempt", s.retryCount+1),
				zap.Uint("max_attempts", s.cfg.MaxRetries))
			if s.onReconnect != nil {
				s.onReconnect()
			}
			if err := s.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := s.streamOnce(ctx, handle)
		if err == nil {
			continue // clean disconnect, retry counted below on next failure
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.state = Disconnected
		s.retryCount++
		s.log.Error("stream attempt failed",
			zap.String("source", s.name),
			zap.Uint("failures", s.retryCount),
			zap.Error(err))
	}
}

// streamOnce performs one connect/subscribe/receive cycle. It returns nil only
// on context cancellation (handled by the caller) and an error for any
// transport-level failure.
func (s *Supervisor) streamOnce(ctx context.Context, handle func(ctx context.Context, frame []byte)) error {
	s.state = Connecting
	if err := s.source.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = s.source.Close() }()

	if err := s.source.Subscribe(ctx, s.cfg.Symbols); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.state = Subscribed
	s.log.Info("subscribed",
		zap.String("source", s.name),
		zap.Int("symbols", len(s.cfg.Symbols)))

	// Entering the receive loop is the Streaming entry: retry counters
	// reset so past outages do not shorten the budget for future ones.
	s.state = Streaming
	s.retryCount = 0

	for {
		frame, err := s.source.Receive(ctx, s.cfg.ReceiveTimeout)
		switch {
		case err == nil:
			handle(ctx, frame)
		case errors.Is(err, exchange.ErrReceiveTimeout):
			s.log.Warn("no frame within receive timeout, probing liveness",
				zap.String("source", s.name))
			if pingErr := s.source.Ping(ctx, s.cfg.PingTimeout); pingErr != nil {
				return fmt.Errorf("keepalive: %w", pingErr)
			}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			return fmt.Errorf("receive: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// backoffDelay returns min(initial * 2^failures, max).
func (s *Supervisor) backoffDelay(failures uint) time.Duration {
	delay := s.cfg.InitialBackoff
	for i := uint(0); i < failures; i++ {
		delay *= 2
		if delay >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	if delay > s.cfg.MaxBackoff {
		return s.cfg.MaxBackoff
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
