package aggregate

import (
	"github.com/shopspring/decimal"

	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/market"
)

// Detector decides whether a trade counts as a big transaction. Implementations
// must be stateless or safe for use from a single pipeline goroutine.
type Detector interface {
	Classify(trade market.Trade) bool
}

// ValueThreshold flags trades whose notional value meets a fixed threshold.
type ValueThreshold struct {
	Threshold decimal.Decimal
}

func NewValueThreshold(threshold decimal.Decimal) ValueThreshold {
	return ValueThreshold{Threshold: threshold}
}

func (d ValueThreshold) Classify(trade market.Trade) bool {
	return trade.Value().GreaterThanOrEqual(d.Threshold)
}
