// Package market defines the canonical trade and window-aggregate types shared
// by the exchange adapters, the window aggregator and the sinks.
//
// All monetary fields use decimal.Decimal so that per-window sums do not drift
// the way accumulated float64 arithmetic does.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the taker side of a trade.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Trade is one normalized trade event. It is immutable once constructed by an
// exchange normalizer and is consumed exactly once by the window aggregator.
type Trade struct {
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	EventTime     time.Time // always UTC
	BaseCurrency  string
	QuoteCurrency string
}

// Value returns the notional value of the trade (price * quantity).
func (t Trade) Value() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}

// WindowKey uniquely identifies one aggregation bucket.
type WindowKey struct {
	Symbol      string
	WindowStart time.Time
}

// SideAggregate accumulates per-side statistics inside one window.
// A zero Count means every other field is the identity value.
type SideAggregate struct {
	Count         uint64
	TotalQuantity decimal.Decimal
	TotalValue    decimal.Decimal
	MinPrice      decimal.Decimal
	MaxPrice      decimal.Decimal
}

// Add folds one trade into the aggregate.
func (a *SideAggregate) Add(price, quantity decimal.Decimal) {
	if a.Count == 0 || price.LessThan(a.MinPrice) {
		a.MinPrice = price
	}
	if a.Count == 0 || price.GreaterThan(a.MaxPrice) {
		a.MaxPrice = price
	}
	a.Count++
	a.TotalQuantity = a.TotalQuantity.Add(quantity)
	a.TotalValue = a.TotalValue.Add(price.Mul(quantity))
}

// AvgPrice returns the volume-weighted average price, or zero for an empty
// aggregate or zero total quantity.
func (a *SideAggregate) AvgPrice() decimal.Decimal {
	if a.Count == 0 || a.TotalQuantity.IsZero() {
		return decimal.Zero
	}
	return a.TotalValue.Div(a.TotalQuantity)
}

// WindowRecord is one symbol's aggregate for one window. It is mutable only
// while the window is open; once closed it is handed to the sink dispatcher as
// an immutable snapshot together with its big transactions.
type WindowRecord struct {
	Key           WindowKey
	Source        string
	BaseCurrency  string
	QuoteCurrency string
	Buy           SideAggregate
	Sell          SideAggregate
}

// BigTransaction is a single trade whose notional value met the configured
// threshold. Its lifecycle is independent from the WindowRecord: it is
// collected per window and flushed alongside it.
type BigTransaction struct {
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Value         decimal.Decimal
	EventTime     time.Time
	Source        string
	BaseCurrency  string
	QuoteCurrency string
}

// TruncateWindow truncates t to the start of its window. Truncation is
// idempotent: truncating an already truncated time is a no-op.
func TruncateWindow(t time.Time, size time.Duration) time.Time {
	return t.UTC().Truncate(size)
}
