// Package aggregate implements the per-symbol window aggregation engine and
// the big-transaction classifier.
package aggregate

import (
	"time"

	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/market"
)

// DefaultBigTransactionCap bounds the big-transaction list of one open window.
// Entries past the cap are dropped and counted; without a bound a threshold
// misconfiguration could grow the list until the window closes.
const DefaultBigTransactionCap = 1024

// ClosedWindow is an immutable snapshot of a finished window together with
// the big transactions collected while it was open.
type ClosedWindow struct {
	Record          market.WindowRecord
	BigTransactions []market.BigTransaction
	DroppedBig      uint64
}

type openWindow struct {
	record     market.WindowRecord
	big        []market.BigTransaction
	droppedBig uint64
}

// Windower buckets normalized trades into fixed-size time windows and
// accumulates per-side statistics. It owns the open-window map exclusively;
// callers must feed it from a single goroutine.
//
// Windows advance monotonically per symbol: a late trade whose window start
// precedes the open window folds into the open window instead of reopening a
// past one, so history never reopens.
type Windower struct {
	source   string
	size     time.Duration
	detector Detector
	bigCap   int
	open     map[string]*openWindow
}

// NewWindower creates an aggregator for one pipeline. bigCap <= 0 selects
// DefaultBigTransactionCap.
func NewWindower(source string, size time.Duration, detector Detector, bigCap int) *Windower {
	if bigCap <= 0 {
		bigCap = DefaultBigTransactionCap
	}
	return &Windower{
		source:   source,
		size:     size,
		detector: detector,
		bigCap:   bigCap,
		open:     make(map[string]*openWindow),
	}
}

// Add folds one trade into its window. When the trade's window start is
// strictly past the open window for that symbol, the open window is closed
// and returned; otherwise the return is nil.
func (w *Windower) Add(trade market.Trade) *ClosedWindow {
	windowStart := market.TruncateWindow(trade.EventTime, w.size)

	var closed *ClosedWindow
	current, ok := w.open[trade.Symbol]
	if !ok || windowStart.After(current.record.Key.WindowStart) {
		if ok {
			closed = w.close(current)
		}
		current = &openWindow{
			record: market.WindowRecord{
				Key:           market.WindowKey{Symbol: trade.Symbol, WindowStart: windowStart},
				Source:        w.source,
				BaseCurrency:  trade.BaseCurrency,
				QuoteCurrency: trade.QuoteCurrency,
			},
		}
		w.open[trade.Symbol] = current
	}

	switch trade.Side {
	case market.Buy:
		current.record.Buy.Add(trade.Price, trade.Quantity)
	case market.Sell:
		current.record.Sell.Add(trade.Price, trade.Quantity)
	}

	if w.detector != nil && w.detector.Classify(trade) {
		if len(current.big) < w.bigCap {
			current.big = append(current.big, market.BigTransaction{
				Symbol:        trade.Symbol,
				Side:          trade.Side,
				Price:         trade.Price,
				Quantity:      trade.Quantity,
				Value:         trade.Value(),
				EventTime:     trade.EventTime,
				Source:        w.source,
				BaseCurrency:  trade.BaseCurrency,
				QuoteCurrency: trade.QuoteCurrency,
			})
		} else {
			current.droppedBig++
		}
	}

	return closed
}

// Flush closes every open window, in no particular order. Used on shutdown so
// a partially filled window is still emitted exactly once.
func (w *Windower) Flush() []*ClosedWindow {
	flushed := make([]*ClosedWindow, 0, len(w.open))
	for symbol, current := range w.open {
		flushed = append(flushed, w.close(current))
		delete(w.open, symbol)
	}
	return flushed
}

// OpenCount returns the number of currently open windows.
func (w *Windower) OpenCount() int {
	return len(w.open)
}

func (w *Windower) close(current *openWindow) *ClosedWindow {
	return &ClosedWindow{
		Record:          current.record,
		BigTransactions: current.big,
		DroppedBig:      current.droppedBig,
	}
}
