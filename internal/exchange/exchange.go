// Package exchange abstracts one exchange's stream transport and frame format
// behind a capability pair: a StreamSource for the duplex connection and a
// TradeNormalizer for turning raw frames into canonical trades. The rest of the
// pipeline is exchange-agnostic.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/market"
)

// StreamSource is one exchange's duplex stream transport. It performs network
// I/O only; reconnect and backoff policy live in the connection supervisor.
type StreamSource interface {
	// Connect dials the transport. The source must be reusable: after a
	// failure or Close, Connect establishes a fresh connection.
	Connect(ctx context.Context) error

	// Subscribe sends the subscription request for the given symbols and
	// consumes any acknowledgement the exchange sends. An explicit error
	// frame from the exchange is a subscription failure.
	Subscribe(ctx context.Context, symbols []string) error

	// Receive blocks until the next data frame arrives or the timeout
	// elapses. Returns ErrReceiveTimeout on timeout and ErrConnectionClosed
	// once the transport is gone.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)

	// Ping sends a keepalive and waits up to timeout for liveness
	// confirmation from the peer.
	Ping(ctx context.Context, timeout time.Duration) error

	// Close releases the underlying connection.
	Close() error
}

// TradeNormalizer parses one raw frame into a canonical trade.
// The second return is false when the frame is valid but not a trade event
// (subscription acks, heartbeats); those frames are silently ignored.
// Parse failures return an error wrapping ErrMalformedFrame and are
// skip-and-count, never fatal.
type TradeNormalizer interface {
	Normalize(frame []byte) (market.Trade, bool, error)
}

// Adapter bundles the capabilities for one exchange stream.
type Adapter struct {
	Name       string
	Source     StreamSource
	Normalizer TradeNormalizer
}

// splitSymbol splits a delimited pair like "BTC-USDT" on sep. Symbols without
// the separator are matched against common quote suffixes instead.
func splitSymbol(symbol, sep string) (base, quote string) {
	if sep != "" {
		for i := 0; i+len(sep) <= len(symbol); i++ {
			if symbol[i:i+len(sep)] == sep {
				return symbol[:i], symbol[i+len(sep):]
			}
		}
	}
	for _, q := range []string{"USDT", "USDC", "FDUSD", "TUSD", "BUSD", "BTC", "ETH", "BNB", "EUR", "TRY"} {
		if len(symbol) > len(q) && symbol[len(symbol)-len(q):] == q {
			return symbol[:len(symbol)-len(q)], q
		}
	}
	return symbol, ""
}

// malformed wraps a parse failure so callers can match it with errors.Is.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformedFrame}, args...)...)
}
