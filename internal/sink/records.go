// Package sink batches finalized windows and big transactions and hands them
// to the configured writers with partial-failure tolerance.
package sink

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/market"
)

// Destination names. Writers map these to a table, topic or key prefix; the
// dispatcher never special-cases one of them in code.
const (
	DestWindowStats     = "transaction_stats"
	DestBigTransactions = "big_transactions"
)

// WindowStatsRow is the persisted shape of one closed window. Min, max and
// average prices are nil for a side with no trades.
type WindowStatsRow struct {
	Timestamp     time.Time `json:"timestamp"`
	Symbol        string    `json:"symbol"`
	Source        string    `json:"source"`
	BaseCurrency  string    `json:"baseCurrency"`
	QuoteCurrency string    `json:"quoteCurrency"`

	BuyCount         uint64   `json:"buy_count"`
	BuyTotalQuantity float64  `json:"buy_total_quantity"`
	BuyTotalValue    float64  `json:"buy_total_value"`
	BuyMinPrice      *float64 `json:"buy_min_price"`
	BuyMaxPrice      *float64 `json:"buy_max_price"`
	BuyAvgPrice      *float64 `json:"buy_avg_price"`

	SellCount         uint64   `json:"sell_count"`
	SellTotalQuantity float64  `json:"sell_total_quantity"`
	SellTotalValue    float64  `json:"sell_total_value"`
	SellMinPrice      *float64 `json:"sell_min_price"`
	SellMaxPrice      *float64 `json:"sell_max_price"`
	SellAvgPrice      *float64 `json:"sell_avg_price"`
}

// BigTransactionRow is the persisted shape of one big transaction.
type BigTransactionRow struct {
	Timestamp     time.Time `json:"timestamp"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	Value         float64   `json:"value"`
	Source        string    `json:"source"`
	BaseCurrency  string    `json:"baseCurrency"`
	QuoteCurrency string    `json:"quoteCurrency"`
}

// ToWindowStatsRow flattens a closed window record into its persisted shape.
func ToWindowStatsRow(record market.WindowRecord) *WindowStatsRow {
	row := &WindowStatsRow{
		Timestamp:     record.Key.WindowStart,
		Symbol:        record.Key.Symbol,
		Source:        record.Source,
		BaseCurrency:  record.BaseCurrency,
		QuoteCurrency: record.QuoteCurrency,
	}

	row.BuyCount = record.Buy.Count
	row.BuyTotalQuantity = toFloat(record.Buy.TotalQuantity)
	row.BuyTotalValue = toFloat(record.Buy.TotalValue)
	if record.Buy.Count > 0 {
		row.BuyMinPrice = floatPtr(record.Buy.MinPrice)
		row.BuyMaxPrice = floatPtr(record.Buy.MaxPrice)
		row.BuyAvgPrice = floatPtr(record.Buy.AvgPrice())
	}

	row.SellCount = record.Sell.Count
	row.SellTotalQuantity = toFloat(record.Sell.TotalQuantity)
	row.SellTotalValue = toFloat(record.Sell.TotalValue)
	if record.Sell.Count > 0 {
		row.SellMinPrice = floatPtr(record.Sell.MinPrice)
		row.SellMaxPrice = floatPtr(record.Sell.MaxPrice)
		row.SellAvgPrice = floatPtr(record.Sell.AvgPrice())
	}

	return row
}

// ToBigTransactionRow flattens one big transaction into its persisted shape.
func ToBigTransactionRow(big market.BigTransaction) *BigTransactionRow {
	return &BigTransactionRow{
		Timestamp:     big.EventTime,
		Symbol:        big.Symbol,
		Side:          string(big.Side),
		Price:         toFloat(big.Price),
		Quantity:      toFloat(big.Quantity),
		Value:         toFloat(big.Value),
		Source:        big.Source,
		BaseCurrency:  big.BaseCurrency,
		QuoteCurrency: big.QuoteCurrency,
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func floatPtr(d decimal.Decimal) *float64 {
	f := toFloat(d)
	return &f
}
