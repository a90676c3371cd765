// Package metrics exposes ingestion counters and gauges via Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/market"
)

// Exporter holds the process-wide ingestion metrics. It is created once at
// startup and passed by handle into each pipeline; all methods are best-effort
// and never block ingestion.
type Exporter struct {
	registry *prometheus.Registry
	server   *http.Server
	log      *zap.Logger

	tradesTotal      *prometheus.CounterVec
	transactionValue *prometheus.CounterVec
	bigTransactions  *prometheus.CounterVec
	currentPrice     *prometheus.GaugeVec
	malformedFrames  *prometheus.CounterVec
	reconnects       *prometheus.CounterVec
	sinkFailures     *prometheus.CounterVec
	windowsClosed    *prometheus.CounterVec
}

func NewExporter(log *zap.Logger) *Exporter {
	registry := prometheus.NewRegistry()

	e := &Exporter{
		registry: registry,
		log:      log,
		tradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trades_total",
			Help: "Total number of processed trades.",
		}, []string{"symbol", "side"}),
		transactionValue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transaction_value_total",
			Help: "Total notional value of processed trades.",
		}, []string{"symbol", "side"}),
		bigTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "big_transactions_total",
			Help: "Number of trades at or above the big-transaction threshold.",
		}, []string{"symbol", "side"}),
		currentPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "current_price",
			Help: "Last observed trade price.",
		}, []string{"symbol"}),
		malformedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "malformed_frames_total",
			Help: "Frames skipped because they could not be parsed.",
		}, []string{"source"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_reconnects_total",
			Help: "Reconnection attempts per stream source.",
		}, []string{"source"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sink_failures_total",
			Help: "Dispatch flushes that reported at least one failure.",
		}, []string{"source"}),
		windowsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "windows_closed_total",
			Help: "Finalized aggregation windows.",
		}, []string{"source"}),
	}

	registry.MustRegister(
		e.tradesTotal,
		e.transactionValue,
		e.bigTransactions,
		e.currentPrice,
		e.malformedFrames,
		e.reconnects,
		e.sinkFailures,
		e.windowsClosed,
	)

	return e
}

// ObserveTrade records one processed trade.
func (e *Exporter) ObserveTrade(trade market.Trade) {
	side := string(trade.Side)
	e.tradesTotal.WithLabelValues(trade.Symbol, side).Inc()
	value, _ := trade.Value().Float64()
	e.transactionValue.WithLabelValues(trade.Symbol, side).Add(value)
	price, _ := trade.Price.Float64()
	e.currentPrice.WithLabelValues(trade.Symbol).Set(price)
}

// ObserveBigTransaction records one flagged trade.
func (e *Exporter) ObserveBigTransaction(trade market.Trade) {
	e.bigTransactions.WithLabelValues(trade.Symbol, string(trade.Side)).Inc()
}

// ObserveMalformedFrame counts one skipped frame.
func (e *Exporter) ObserveMalformedFrame(source string) {
	e.malformedFrames.WithLabelValues(source).Inc()
}

// ObserveReconnect counts one reconnection attempt.
func (e *Exporter) ObserveReconnect(source string) {
	e.reconnects.WithLabelValues(source).Inc()
}

// ObserveSinkFailure counts one failed dispatch flush.
func (e *Exporter) ObserveSinkFailure(source string) {
	e.sinkFailures.WithLabelValues(source).Inc()
}

// ObserveWindowClosed counts one finalized window.
func (e *Exporter) ObserveWindowClosed(source string) {
	e.windowsClosed.WithLabelValues(source).Inc()
}

// Serve starts the /metrics listener. It returns immediately; listener errors
// are logged, not propagated, since metrics must never take ingestion down.
func (e *Exporter) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	e.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("metrics server stopped", zap.Error(err))
		}
	}()
}

// Close shuts the /metrics listener down.
func (e *Exporter) Close(ctx context.Context) error {
	if e.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return e.server.Shutdown(ctx)
}
