package postgres

import (
	"fmt"
	"time"

	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/sink"
)

// WindowStatsRecord is one finalized aggregation window stored in the database.
type WindowStatsRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index: one row per source/symbol/window
	Source    string    `gorm:"type:text;not null;index:idx_stats_source_symbol_ts,unique"`
	Symbol    string    `gorm:"type:text;not null;index:idx_stats_symbol;index:idx_stats_source_symbol_ts,unique"`
	Timestamp time.Time `gorm:"not null;index:idx_stats_timestamp;index:idx_stats_source_symbol_ts,unique"`

	BaseCurrency  string `gorm:"type:text"`
	QuoteCurrency string `gorm:"type:text"`

	BuyCount         uint64   `gorm:"not null"`
	BuyTotalQuantity float64  `gorm:"type:numeric;not null"`
	BuyTotalValue    float64  `gorm:"type:numeric;not null"`
	BuyMinPrice      *float64 `gorm:"type:numeric"`
	BuyMaxPrice      *float64 `gorm:"type:numeric"`
	BuyAvgPrice      *float64 `gorm:"type:numeric"`

	SellCount         uint64   `gorm:"not null"`
	SellTotalQuantity float64  `gorm:"type:numeric;not null"`
	SellTotalValue    float64  `gorm:"type:numeric;not null"`
	SellMinPrice      *float64 `gorm:"type:numeric"`
	SellMaxPrice      *float64 `gorm:"type:numeric"`
	SellAvgPrice      *float64 `gorm:"type:numeric"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (WindowStatsRecord) TableName() string {
	return "transaction_stats"
}

// BigTransactionRecord is one threshold-crossing trade stored in the database.
type BigTransactionRecord struct {
	ID uint `gorm:"primaryKey"`

	Source    string    `gorm:"type:text;not null;index:idx_big_source"`
	Symbol    string    `gorm:"type:text;not null;index:idx_big_symbol"`
	Side      string    `gorm:"type:varchar(4);not null"`
	Timestamp time.Time `gorm:"not null;index:idx_big_timestamp"`

	Price    float64 `gorm:"type:numeric;not null"`
	Quantity float64 `gorm:"type:numeric;not null"`
	Value    float64 `gorm:"type:numeric;not null"`

	BaseCurrency  string `gorm:"type:text"`
	QuoteCurrency string `gorm:"type:text"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (BigTransactionRecord) TableName() string {
	return "big_transactions"
}

// ToWindowStatsRecord converts a dispatcher row into its database record.
func ToWindowStatsRecord(row *sink.WindowStatsRow) *WindowStatsRecord {
	return &WindowStatsRecord{
		Source:            row.Source,
		Symbol:            row.Symbol,
		Timestamp:         row.Timestamp,
		BaseCurrency:      row.BaseCurrency,
		QuoteCurrency:     row.QuoteCurrency,
		BuyCount:          row.BuyCount,
		BuyTotalQuantity:  row.BuyTotalQuantity,
		BuyTotalValue:     row.BuyTotalValue,
		BuyMinPrice:       row.BuyMinPrice,
		BuyMaxPrice:       row.BuyMaxPrice,
		BuyAvgPrice:       row.BuyAvgPrice,
		SellCount:         row.SellCount,
		SellTotalQuantity: row.SellTotalQuantity,
		SellTotalValue:    row.SellTotalValue,
		SellMinPrice:      row.SellMinPrice,
		SellMaxPrice:      row.SellMaxPrice,
		SellAvgPrice:      row.SellAvgPrice,
	}
}

// ToBigTransactionRecord converts a dispatcher row into its database record.
func ToBigTransactionRecord(row *sink.BigTransactionRow) *BigTransactionRecord {
	return &BigTransactionRecord{
		Source:        row.Source,
		Symbol:        row.Symbol,
		Side:          row.Side,
		Timestamp:     row.Timestamp,
		Price:         row.Price,
		Quantity:      row.Quantity,
		Value:         row.Value,
		BaseCurrency:  row.BaseCurrency,
		QuoteCurrency: row.QuoteCurrency,
	}
}

// convertRows maps dispatcher rows for one destination to database records.
func convertRows(destination string, records []any) (any, error) {
	switch destination {
	case sink.DestWindowStats:
		out := make([]*WindowStatsRecord, 0, len(records))
		for _, record := range records {
			row, ok := record.(*sink.WindowStatsRow)
			if !ok {
				return nil, fmt.Errorf("unexpected record type %T for %s", record, destination)
			}
			out = append(out, ToWindowStatsRecord(row))
		}
		return out, nil
	case sink.DestBigTransactions:
		out := make([]*BigTransactionRecord, 0, len(records))
		for _, record := range records {
			row, ok := record.(*sink.BigTransactionRow)
			if !ok {
				return nil, fmt.Errorf("unexpected record type %T for %s", record, destination)
			}
			out = append(out, ToBigTransactionRecord(row))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown destination %q", destination)
	}
}
