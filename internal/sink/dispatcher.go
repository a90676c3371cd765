package sink

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/market"
)

const (
	defaultBatchSize     = 128
	defaultFlushInterval = time.Second
	defaultWriteTimeout  = 5 * time.Second
)

// ErrSink marks a persist failure. It is reported for counting, never fatal
// to ingestion.
var ErrSink = errors.New("sink write failed")

// Writer persists record batches to one durable destination family. Writers
// are shared across exchange pipelines and must be safe for concurrent use.
type Writer interface {
	Name() string

	// WriteBatch performs one bulk write to the named destination.
	WriteBatch(ctx context.Context, destination string, records []any) error

	// WriteOne is the fine-grained fallback path after a bulk failure.
	WriteOne(ctx context.Context, destination string, record any) error
}

// Dispatcher accumulates closed windows and big transactions and flushes them
// to every writer as one bulk write per destination. On a bulk failure it
// retries record-at-a-time so a single bad record cannot discard the batch.
//
// One Dispatcher belongs to one pipeline goroutine; only the writers behind it
// are shared.
type Dispatcher struct {
	writers       []Writer
	log           *zap.Logger
	batchSize     int
	flushInterval time.Duration
	writeTimeout  time.Duration

	pendingStats []any
	pendingBig   []any
	lastFlush    time.Time

	failedRecords uint64
}

// Option tweaks dispatcher behavior.
type Option func(*Dispatcher)

func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

func WithFlushInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.flushInterval = interval
		}
	}
}

func WithWriteTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.writeTimeout = timeout
		}
	}
}

func NewDispatcher(writers []Writer, log *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		writers:       writers,
		log:           log,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		writeTimeout:  defaultWriteTimeout,
		lastFlush:     time.Now(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch queues one closed window with its big transactions and flushes the
// accumulated batch once it is large or old enough. Window boundaries are
// aligned across symbols, so closes cluster and batch well.
func (d *Dispatcher) Dispatch(ctx context.Context, record market.WindowRecord, bigs []market.BigTransaction) error {
	d.pendingStats = append(d.pendingStats, ToWindowStatsRow(record))
	for _, big := range bigs {
		d.pendingBig = append(d.pendingBig, ToBigTransactionRow(big))
	}

	if len(d.pendingStats) >= d.batchSize ||
		len(d.pendingBig) >= d.batchSize ||
		time.Since(d.lastFlush) >= d.flushInterval {
		return d.Flush(ctx)
	}
	return nil
}

// Flush writes everything pending. The write is bounded by the configured
// timeout so a stalled sink cannot block the aggregation loop indefinitely.
func (d *Dispatcher) Flush(ctx context.Context) error {
	if len(d.pendingStats) == 0 && len(d.pendingBig) == 0 {
		d.lastFlush = time.Now()
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.writeTimeout)
	defer cancel()

	var errs []error
	for _, writer := range d.writers {
		if len(d.pendingStats) > 0 {
			if err := d.writeWithFallback(ctx, writer, DestWindowStats, d.pendingStats); err != nil {
				errs = append(errs, err)
			}
		}
		if len(d.pendingBig) > 0 {
			if err := d.writeWithFallback(ctx, writer, DestBigTransactions, d.pendingBig); err != nil {
				errs = append(errs, err)
			}
		}
	}

	d.pendingStats = d.pendingStats[:0]
	d.pendingBig = d.pendingBig[:0]
	d.lastFlush = time.Now()

	return errors.Join(errs...)
}

// FailedRecords returns the number of records dropped after both the bulk and
// the single-record path failed.
func (d *Dispatcher) FailedRecords() uint64 {
	return d.failedRecords
}

func (d *Dispatcher) writeWithFallback(ctx context.Context, writer Writer, destination string, records []any) error {
	err := writer.WriteBatch(ctx, destination, records)
	if err == nil {
		return nil
	}

	d.log.Warn("bulk write failed, retrying record-at-a-time",
		zap.String("writer", writer.Name()),
		zap.String("destination", destination),
		zap.Int("records", len(records)),
		zap.Error(err))

	var failed int
	for _, record := range records {
		if err := writer.WriteOne(ctx, destination, record); err != nil {
			failed++
			d.failedRecords++
			d.log.Error("dropping record after single write failed",
				zap.String("writer", writer.Name()),
				zap.String("destination", destination),
				zap.Error(err))
		}
	}
	if failed > 0 {
		return ErrSink
	}
	return nil
}
