package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

// Writer adapts the Postgres client to the sink.Writer contract. Duplicate
// window rows (same source/symbol/window) are dropped on conflict, which makes
// a retried batch safe to replay after an ambiguous failure.
type Writer struct {
	client *PostgresClient
}

func NewWriter(client *PostgresClient) *Writer {
	return &Writer{client: client}
}

func (w *Writer) Name() string {
	return "postgres"
}

func (w *Writer) WriteBatch(ctx context.Context, destination string, records []any) error {
	converted, err := convertRows(destination, records)
	if err != nil {
		return err
	}

	tx := w.client.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(converted, insertBatchSize)
	if tx.Error != nil {
		return fmt.Errorf("bulk insert into %s: %w", destination, tx.Error)
	}
	return nil
}

func (w *Writer) WriteOne(ctx context.Context, destination string, record any) error {
	converted, err := convertRows(destination, []any{record})
	if err != nil {
		return err
	}

	tx := w.client.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(converted)
	if tx.Error != nil {
		return fmt.Errorf("insert into %s: %w", destination, tx.Error)
	}
	return nil
}

// DeleteOldStats prunes finalized windows older than the cutoff.
func (w *Writer) DeleteOldStats(ctx context.Context, before time.Time) error {
	return w.client.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&WindowStatsRecord{}).Error
}

// DeleteOldBigTransactions prunes big transactions older than the cutoff.
func (w *Writer) DeleteOldBigTransactions(ctx context.Context, before time.Time) error {
	return w.client.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&BigTransactionRecord{}).Error
}
