package exchange

import (
	"errors"

	"github.com/tinydotai/bitpulse.market-data-aggregator/pkg/ws"
)

var (
	// ErrReceiveTimeout is returned by Receive when no frame arrives within
	// the timeout. The supervisor follows up with a keepalive probe.
	ErrReceiveTimeout = ws.ErrReadTimeout

	// ErrConnectionClosed is returned once the transport is gone and the
	// source must be reconnected.
	ErrConnectionClosed = ws.ErrClosed

	// ErrSubscription marks an explicit rejection frame from the exchange.
	// It is handled like a transport failure: the attempt is abandoned and
	// the backoff cycle re-entered.
	ErrSubscription = errors.New("subscription rejected")

	// ErrMalformedFrame marks a single unparseable frame. The frame is
	// skipped and counted; the transport itself is healthy.
	ErrMalformedFrame = errors.New("malformed frame")
)
