package aggregate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/market"
)

func makeTrade(symbol string, side market.Side, price, quantity string, at time.Time) market.Trade {
	p, _ := decimal.NewFromString(price)
	q, _ := decimal.NewFromString(quantity)
	return market.Trade{
		Symbol:        symbol,
		Side:          side,
		Price:         p,
		Quantity:      q,
		EventTime:     at,
		BaseCurrency:  "BTC",
		QuoteCurrency: "USDT",
	}
}

func at(second int) time.Time {
	return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(second) * time.Second)
}

func Test_TruncateWindow_Idempotent(t *testing.T) {
	for _, size := range []time.Duration{time.Second, 10 * time.Second, time.Minute} {
		ts := time.Date(2024, 6, 1, 12, 34, 56, 789000000, time.UTC)
		once := market.TruncateWindow(ts, size)
		twice := market.TruncateWindow(once, size)
		assert.Equal(t, once, twice, "size %v", size)
	}
}

func Test_Windower_EndToEndExample(t *testing.T) {
	// Window size 10s, threshold $10,000. Three trades: two inside
	// [00:00:00, 00:00:10), one at 00:00:12 that closes the window.
	detector := NewValueThreshold(decimal.NewFromInt(10000))
	w := NewWindower("binance", 10*time.Second, detector, 0)

	require.Nil(t, w.Add(makeTrade("BTCUSDT", market.Buy, "50000", "0.01", at(3))))
	require.Nil(t, w.Add(makeTrade("BTCUSDT", market.Sell, "50010", "0.3", at(7))))

	closed := w.Add(makeTrade("BTCUSDT", market.Buy, "50020", "0.01", at(12)))
	require.NotNil(t, closed)

	record := closed.Record
	assert.Equal(t, "BTCUSDT", record.Key.Symbol)
	assert.Equal(t, at(0), record.Key.WindowStart)
	assert.Equal(t, "binance", record.Source)

	assert.Equal(t, uint64(1), record.Buy.Count)
	assert.True(t, record.Buy.TotalQuantity.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, record.Buy.TotalValue.Equal(decimal.RequireFromString("500")))
	assert.True(t, record.Buy.MinPrice.Equal(decimal.RequireFromString("50000")))
	assert.True(t, record.Buy.MaxPrice.Equal(decimal.RequireFromString("50000")))
	assert.True(t, record.Buy.AvgPrice().Equal(decimal.RequireFromString("50000")))

	assert.Equal(t, uint64(1), record.Sell.Count)
	assert.True(t, record.Sell.TotalQuantity.Equal(decimal.RequireFromString("0.3")))
	assert.True(t, record.Sell.TotalValue.Equal(decimal.RequireFromString("15003")))
	assert.True(t, record.Sell.AvgPrice().Equal(decimal.RequireFromString("50010")))

	// Only the sell trade crossed the threshold (value 15003 >= 10000).
	require.Len(t, closed.BigTransactions, 1)
	big := closed.BigTransactions[0]
	assert.Equal(t, market.Sell, big.Side)
	assert.True(t, big.Value.Equal(decimal.RequireFromString("15003")))
	assert.Equal(t, at(7), big.EventTime)

	// The third trade opened a fresh window at 00:00:10.
	assert.Equal(t, 1, w.OpenCount())
	flushed := w.Flush()
	require.Len(t, flushed, 1)
	assert.Equal(t, at(10), flushed[0].Record.Key.WindowStart)
	assert.Equal(t, uint64(1), flushed[0].Record.Buy.Count)
	assert.Empty(t, flushed[0].BigTransactions)
}

func Test_Windower_CountsMatchTrades(t *testing.T) {
	w := NewWindower("binance", time.Second, nil, 0)

	perWindow := []int{3, 5, 1}
	var closedCounts []uint64
	for windowIdx, n := range perWindow {
		for i := 0; i < n; i++ {
			side := market.Buy
			if i%2 == 1 {
				side = market.Sell
			}
			trade := makeTrade("ETHUSDT", side, "3000", "1", at(windowIdx).Add(time.Duration(i)*100*time.Millisecond))
			if closed := w.Add(trade); closed != nil {
				closedCounts = append(closedCounts, closed.Record.Buy.Count+closed.Record.Sell.Count)
			}
		}
	}
	for _, closed := range w.Flush() {
		closedCounts = append(closedCounts, closed.Record.Buy.Count+closed.Record.Sell.Count)
	}

	require.Len(t, closedCounts, len(perWindow))
	for i, n := range perWindow {
		assert.Equal(t, uint64(n), closedCounts[i])
	}
}

func Test_Windower_WeightedAverageInvariant(t *testing.T) {
	w := NewWindower("binance", 10*time.Second, nil, 0)

	prices := []string{"100", "101.5", "99.25", "100.75"}
	quantities := []string{"2", "0.5", "1.25", "3"}
	for i := range prices {
		w.Add(makeTrade("BTCUSDT", market.Buy, prices[i], quantities[i], at(i)))
	}

	flushed := w.Flush()
	require.Len(t, flushed, 1)
	agg := flushed[0].Record.Buy

	assert.True(t, agg.AvgPrice().Equal(agg.TotalValue.Div(agg.TotalQuantity)))
	assert.True(t, agg.MinPrice.Equal(decimal.RequireFromString("99.25")))
	assert.True(t, agg.MaxPrice.Equal(decimal.RequireFromString("101.5")))
	for _, p := range prices {
		price := decimal.RequireFromString(p)
		assert.True(t, price.GreaterThanOrEqual(agg.MinPrice))
		assert.True(t, price.LessThanOrEqual(agg.MaxPrice))
	}
}

func Test_Windower_LateTradeFoldsIntoCurrentWindow(t *testing.T) {
	w := NewWindower("binance", time.Second, nil, 0)

	require.Nil(t, w.Add(makeTrade("BTCUSDT", market.Buy, "100", "1", at(5))))
	// Late trade from an already-closed second: folded into the open
	// window, never reopening history.
	require.Nil(t, w.Add(makeTrade("BTCUSDT", market.Buy, "100", "1", at(2))))

	flushed := w.Flush()
	require.Len(t, flushed, 1)
	assert.Equal(t, at(5), flushed[0].Record.Key.WindowStart)
	assert.Equal(t, uint64(2), flushed[0].Record.Buy.Count)
}

func Test_Windower_PerSymbolWindows(t *testing.T) {
	w := NewWindower("binance", time.Second, nil, 0)

	w.Add(makeTrade("BTCUSDT", market.Buy, "100", "1", at(0)))
	w.Add(makeTrade("ETHUSDT", market.Sell, "200", "1", at(0)))

	// Advancing BTCUSDT must not close the ETHUSDT window.
	closed := w.Add(makeTrade("BTCUSDT", market.Buy, "100", "1", at(1)))
	require.NotNil(t, closed)
	assert.Equal(t, "BTCUSDT", closed.Record.Key.Symbol)
	assert.Equal(t, 2, w.OpenCount())
}

func Test_Windower_EmptySideHasZeroIdentity(t *testing.T) {
	w := NewWindower("binance", time.Second, nil, 0)
	w.Add(makeTrade("BTCUSDT", market.Buy, "100", "1", at(0)))

	flushed := w.Flush()
	require.Len(t, flushed, 1)
	sell := flushed[0].Record.Sell
	assert.Equal(t, uint64(0), sell.Count)
	assert.True(t, sell.TotalQuantity.IsZero())
	assert.True(t, sell.TotalValue.IsZero())
	assert.True(t, sell.AvgPrice().IsZero())
}

func Test_Windower_FlushEmitsOpenWindowExactlyOnce(t *testing.T) {
	w := NewWindower("binance", 10*time.Second, nil, 0)
	w.Add(makeTrade("BTCUSDT", market.Buy, "100", "1", at(0)))

	first := w.Flush()
	require.Len(t, first, 1)
	assert.Empty(t, w.Flush())
	assert.Equal(t, 0, w.OpenCount())
}

func Test_Windower_BigTransactionCap(t *testing.T) {
	detector := NewValueThreshold(decimal.NewFromInt(1))
	w := NewWindower("binance", 10*time.Second, detector, 2)

	for i := 0; i < 5; i++ {
		w.Add(makeTrade("BTCUSDT", market.Buy, "100", "1", at(i)))
	}

	flushed := w.Flush()
	require.Len(t, flushed, 1)
	assert.Len(t, flushed[0].BigTransactions, 2)
	assert.Equal(t, uint64(3), flushed[0].DroppedBig)
}
