package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/aggregate"
	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/exchange"
	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/market"
	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/metrics"
	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/sink"
)

const defaultShutdownFlushTimeout = 10 * time.Second

// PriceCache receives the latest observed price per symbol, best effort.
type PriceCache interface {
	SetLatest(ctx context.Context, source string, trade market.Trade) error
}

// Pipeline processes one exchange stream as a single sequential task:
// supervisor -> normalizer -> windower -> {detector, dispatcher}. It owns its
// windower exclusively; only the sink writers behind the dispatcher are shared
// with other pipelines.
type Pipeline struct {
	adapter    exchange.Adapter
	supervisor *Supervisor
	windower   *aggregate.Windower
	detector   aggregate.Detector
	dispatcher *sink.Dispatcher
	exporter   *metrics.Exporter
	prices     PriceCache
	log        *zap.Logger

	shutdownFlushTimeout time.Duration
}

func New(
	adapter exchange.Adapter,
	cfg SupervisorConfig,
	windower *aggregate.Windower,
	detector aggregate.Detector,
	dispatcher *sink.Dispatcher,
	exporter *metrics.Exporter,
	prices PriceCache,
	log *zap.Logger,
) *Pipeline {
	p := &Pipeline{
		adapter:              adapter,
		supervisor:           NewSupervisor(adapter.Name, adapter.Source, cfg, log),
		windower:             windower,
		detector:             detector,
		dispatcher:           dispatcher,
		exporter:             exporter,
		prices:               prices,
		log:                  log,
		shutdownFlushTimeout: defaultShutdownFlushTimeout,
	}
	if exporter != nil {
		p.supervisor.SetReconnectHook(func() { exporter.ObserveReconnect(adapter.Name) })
	}
	return p
}

// Run streams until the context is cancelled or retries are exhausted, then
// force-closes and flushes every open window before releasing resources. The
// final flush runs on its own deadline so shutdown cannot hang on a sink.
func (p *Pipeline) Run(ctx context.Context) error {
	runErr := p.supervisor.Run(ctx, p.handleFrame)

	flushCtx, cancel := context.WithTimeout(context.Background(), p.shutdownFlushTimeout)
	defer cancel()

	for _, closed := range p.windower.Flush() {
		p.emit(flushCtx, closed)
	}
	if err := p.dispatcher.Flush(flushCtx); err != nil {
		p.log.Error("final sink flush failed", zap.String("source", p.adapter.Name), zap.Error(err))
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func (p *Pipeline) handleFrame(ctx context.Context, frame []byte) {
	trade, ok, err := p.adapter.Normalizer.Normalize(frame)
	if err != nil {
		// A bad frame does not mean a bad connection: skip and count.
		if p.exporter != nil {
			p.exporter.ObserveMalformedFrame(p.adapter.Name)
		}
		p.log.Debug("skipping malformed frame", zap.String("source", p.adapter.Name), zap.Error(err))
		return
	}
	if !ok {
		return
	}

	if p.exporter != nil {
		p.exporter.ObserveTrade(trade)
		if p.detector != nil && p.detector.Classify(trade) {
			p.exporter.ObserveBigTransaction(trade)
		}
	}
	if p.prices != nil {
		if err := p.prices.SetLatest(ctx, p.adapter.Name, trade); err != nil {
			p.log.Debug("price cache update failed", zap.String("source", p.adapter.Name), zap.Error(err))
		}
	}

	if closed := p.windower.Add(trade); closed != nil {
		p.emit(ctx, closed)
	}
}

func (p *Pipeline) emit(ctx context.Context, closed *aggregate.ClosedWindow) {
	if p.exporter != nil {
		p.exporter.ObserveWindowClosed(p.adapter.Name)
	}
	if closed.DroppedBig > 0 {
		p.log.Warn("big-transaction cap exceeded for window",
			zap.String("source", p.adapter.Name),
			zap.String("symbol", closed.Record.Key.Symbol),
			zap.Time("window_start", closed.Record.Key.WindowStart),
			zap.Uint64("dropped", closed.DroppedBig))
	}

	if err := p.dispatcher.Dispatch(ctx, closed.Record, closed.BigTransactions); err != nil {
		if p.exporter != nil {
			p.exporter.ObserveSinkFailure(p.adapter.Name)
		}
		p.log.Error("sink dispatch failed",
			zap.String("source", p.adapter.Name),
			zap.String("symbol", closed.Record.Key.Symbol),
			zap.Error(err))
	}
}
