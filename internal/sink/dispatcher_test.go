package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/market"
)

// memWriter collects writes in memory and can be scripted to fail the bulk
// path or individual records.
type memWriter struct {
	name       string
	batchErr   error
	oneErr     func(destination string, record any) error
	batches    map[string][][]any
	singles    map[string][]any
	batchCalls int
}

func newMemWriter(name string) *memWriter {
	return &memWriter{
		name:    name,
		batches: make(map[string][][]any),
		singles: make(map[string][]any),
	}
}

func (w *memWriter) Name() string { return w.name }

func (w *memWriter) WriteBatch(ctx context.Context, destination string, records []any) error {
	w.batchCalls++
	if w.batchErr != nil {
		return w.batchErr
	}
	batch := make([]any, len(records))
	copy(batch, records)
	w.batches[destination] = append(w.batches[destination], batch)
	return nil
}

func (w *memWriter) WriteOne(ctx context.Context, destination string, record any) error {
	if w.oneErr != nil {
		if err := w.oneErr(destination, record); err != nil {
			return err
		}
	}
	w.singles[destination] = append(w.singles[destination], record)
	return nil
}

func windowRecord(symbol string, start time.Time) market.WindowRecord {
	return market.WindowRecord{
		Key:           market.WindowKey{Symbol: symbol, WindowStart: start},
		Source:        "binance",
		BaseCurrency:  "BTC",
		QuoteCurrency: "USDT",
		Buy: market.SideAggregate{
			Count:         2,
			TotalQuantity: decimal.RequireFromString("1.5"),
			TotalValue:    decimal.RequireFromString("75000"),
			MinPrice:      decimal.RequireFromString("49000"),
			MaxPrice:      decimal.RequireFromString("51000"),
		},
	}
}

func bigTransaction(symbol string) market.BigTransaction {
	return market.BigTransaction{
		Symbol:        symbol,
		Side:          market.Sell,
		Price:         decimal.RequireFromString("50010"),
		Quantity:      decimal.RequireFromString("0.3"),
		Value:         decimal.RequireFromString("15003"),
		EventTime:     time.Date(2024, 6, 1, 0, 0, 7, 0, time.UTC),
		Source:        "binance",
		BaseCurrency:  "BTC",
		QuoteCurrency: "USDT",
	}
}

func Test_Dispatcher_FlushesAtBatchSize(t *testing.T) {
	writer := newMemWriter("mem")
	d := NewDispatcher([]Writer{writer}, zap.NewNop(),
		WithBatchSize(2), WithFlushInterval(time.Hour))

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, d.Dispatch(context.Background(), windowRecord("BTCUSDT", start), nil))
	assert.Zero(t, writer.batchCalls, "below batch size, nothing written yet")

	require.NoError(t, d.Dispatch(context.Background(), windowRecord("ETHUSDT", start), nil))
	require.Len(t, writer.batches[DestWindowStats], 1)
	assert.Len(t, writer.batches[DestWindowStats][0], 2)

	// Pending cleared: an immediate flush writes nothing new.
	require.NoError(t, d.Flush(context.Background()))
	assert.Len(t, writer.batches[DestWindowStats], 1)
}

func Test_Dispatcher_RoutesBigTransactionsSeparately(t *testing.T) {
	writer := newMemWriter("mem")
	d := NewDispatcher([]Writer{writer}, zap.NewNop())

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	bigs := []market.BigTransaction{bigTransaction("BTCUSDT")}
	require.NoError(t, d.Dispatch(context.Background(), windowRecord("BTCUSDT", start), bigs))
	require.NoError(t, d.Flush(context.Background()))

	require.Len(t, writer.batches[DestWindowStats], 1)
	require.Len(t, writer.batches[DestBigTransactions], 1)

	row, ok := writer.batches[DestBigTransactions][0][0].(*BigTransactionRow)
	require.True(t, ok)
	assert.Equal(t, "sell", row.Side)
	assert.Equal(t, 15003.0, row.Value)
}

func Test_Dispatcher_BulkFailureFallsBackPerRecord(t *testing.T) {
	writer := newMemWriter("mem")
	writer.batchErr = errors.New("unique violation")
	d := NewDispatcher([]Writer{writer}, zap.NewNop())

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, d.Dispatch(context.Background(), windowRecord("BTCUSDT", start), nil))
	require.NoError(t, d.Dispatch(context.Background(), windowRecord("ETHUSDT", start), nil))
	require.NoError(t, d.Flush(context.Background()))

	// Every record survives through the single-record path.
	assert.Len(t, writer.singles[DestWindowStats], 2)
	assert.Zero(t, d.FailedRecords())
}

func Test_Dispatcher_BadRecordDoesNotDiscardBatch(t *testing.T) {
	writer := newMemWriter("mem")
	writer.batchErr = errors.New("bulk rejected")
	writer.oneErr = func(destination string, record any) error {
		if row, ok := record.(*WindowStatsRow); ok && row.Symbol == "ETHUSDT" {
			return errors.New("constraint violation")
		}
		return nil
	}
	d := NewDispatcher([]Writer{writer}, zap.NewNop())

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, d.Dispatch(context.Background(), windowRecord("BTCUSDT", start), nil))
	require.NoError(t, d.Dispatch(context.Background(), windowRecord("ETHUSDT", start), nil))
	require.NoError(t, d.Dispatch(context.Background(), windowRecord("SOLUSDT", start), nil))

	err := d.Flush(context.Background())
	require.ErrorIs(t, err, ErrSink)

	assert.Len(t, writer.singles[DestWindowStats], 2, "good records still persisted")
	assert.Equal(t, uint64(1), d.FailedRecords())
}

func Test_Dispatcher_FanOutToAllWriters(t *testing.T) {
	primary := newMemWriter("postgres")
	archive := newMemWriter("s3")
	d := NewDispatcher([]Writer{primary, archive}, zap.NewNop())

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, d.Dispatch(context.Background(), windowRecord("BTCUSDT", start), nil))
	require.NoError(t, d.Flush(context.Background()))

	assert.Len(t, primary.batches[DestWindowStats], 1)
	assert.Len(t, archive.batches[DestWindowStats], 1)
}

func Test_Dispatcher_WriterFailureIsolated(t *testing.T) {
	broken := newMemWriter("postgres")
	broken.batchErr = errors.New("db down")
	broken.oneErr = func(string, any) error { return errors.New("db down") }
	healthy := newMemWriter("s3")
	d := NewDispatcher([]Writer{broken, healthy}, zap.NewNop())

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, d.Dispatch(context.Background(), windowRecord("BTCUSDT", start), nil))

	err := d.Flush(context.Background())
	require.ErrorIs(t, err, ErrSink)
	assert.Len(t, healthy.batches[DestWindowStats], 1, "healthy writer unaffected")
}

func Test_ToWindowStatsRow_EmptySideHasNilPrices(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	row := ToWindowStatsRow(windowRecord("BTCUSDT", start))

	require.NotNil(t, row.BuyMinPrice)
	assert.Equal(t, 49000.0, *row.BuyMinPrice)
	require.NotNil(t, row.BuyAvgPrice)
	assert.Equal(t, 50000.0, *row.BuyAvgPrice)

	assert.Equal(t, uint64(0), row.SellCount)
	assert.Nil(t, row.SellMinPrice)
	assert.Nil(t, row.SellMaxPrice)
	assert.Nil(t, row.SellAvgPrice)
	assert.Zero(t, row.SellTotalQuantity)
}
