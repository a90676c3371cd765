// Package app wires configuration, sinks, metrics and one pipeline per
// configured exchange, and supervises their lifetime.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tinydotai/bitpulse.market-data-aggregator/config"
	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/aggregate"
	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/exchange"
	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/metrics"
	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/pipeline"
	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/sink"
	"github.com/tinydotai/bitpulse.market-data-aggregator/pkg/storage/postgres"
	redisstore "github.com/tinydotai/bitpulse.market-data-aggregator/pkg/storage/redis"
	s3store "github.com/tinydotai/bitpulse.market-data-aggregator/pkg/storage/s3"
)

const (
	defaultBinanceWSURL   = "wss://stream.binance.com:9443/ws"
	defaultKucoinRESTURL  = "https://api.kucoin.com"
	defaultBinanceRESTURL = "https://api.binance.com"
)

// Run starts every configured exchange pipeline and blocks until the context
// is cancelled or a pipeline fails terminally. A terminal failure is returned
// so the process exits non-zero rather than dying silently.
func Run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// Initialize PostgreSQL sink
	postgresClient, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Environment, cfg.Environment != "prod")
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer postgresClient.Close()

	writers := []sink.Writer{postgres.NewWriter(postgresClient)}

	if cfg.S3.Enabled {
		s3Writer, err := s3store.NewWriter(ctx, cfg.S3.Bucket, cfg.S3.Prefix)
		if err != nil {
			return fmt.Errorf("failed to create S3 writer: %w", err)
		}
		writers = append(writers, s3Writer)
	}

	var prices pipeline.PriceCache
	if cfg.Redis.Enabled {
		cache := redisstore.NewPriceCache(goredis.NewClient(&goredis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		}))
		if err := cache.Ping(ctx); err != nil {
			log.Warn("redis unreachable, price cache disabled", zap.Error(err))
		} else {
			prices = cache
			defer cache.Close()
		}
	}

	exporter := metrics.NewExporter(log)
	if cfg.Metrics.Enabled {
		exporter.Serve(cfg.Metrics.Addr)
		defer func() { _ = exporter.Close(context.Background()) }()
	}

	detector := aggregate.NewValueThreshold(cfg.Window.Threshold())
	supCfgBase := pipeline.SupervisorConfig{
		MaxRetries:     cfg.Stream.MaxRetries,
		InitialBackoff: cfg.Stream.InitialBackoff(),
		MaxBackoff:     cfg.Stream.MaxBackoff(),
		ReceiveTimeout: cfg.Stream.ReceiveTimeout(),
		PingTimeout:    cfg.Stream.PingTimeout(),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(cfg.Exchanges))

	for _, exCfg := range cfg.Exchanges {
		symbols, err := resolveSymbols(ctx, cfg, exCfg, log)
		if err != nil {
			return fmt.Errorf("resolve symbols for %s: %w", exCfg.Name, err)
		}

		adapter, err := buildAdapter(exCfg, cfg, log)
		if err != nil {
			return err
		}

		supCfg := supCfgBase
		supCfg.Symbols = symbols

		windower := aggregate.NewWindower(exCfg.Name, cfg.Window.Size(), detector, cfg.Window.BigTransactionCap)
		dispatcher := sink.NewDispatcher(writers, log)
		pipe := pipeline.New(adapter, supCfg, windower, detector, dispatcher, exporter, prices, log)

		log.Info("starting pipeline",
			zap.String("exchange", exCfg.Name),
			zap.Int("symbols", len(symbols)),
			zap.Duration("window", cfg.Window.Size()))

		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := pipe.Run(ctx); err != nil {
				errCh <- fmt.Errorf("pipeline %s: %w", name, err)
				cancel() // one dead pipeline takes the process down loudly
			}
		}(exCfg.Name)
	}

	wg.Wait()
	close(errCh)
	return <-errCh
}

// resolveSymbols returns the configured symbol list, or discovers the top
// USDT pairs when the list is empty.
func resolveSymbols(ctx context.Context, cfg *config.Config, exCfg config.ExchangeConfig, log *zap.Logger) ([]string, error) {
	if len(exCfg.Symbols) > 0 {
		return exCfg.Symbols, nil
	}

	restURL := cfg.Discovery.RESTURL
	if restURL == "" {
		restURL = defaultBinanceRESTURL
	}
	client := exchange.NewPairsClient(restURL, cfg.Discovery.Timeout())

	discoverCtx, cancel := context.WithTimeout(ctx, cfg.Discovery.Timeout())
	defer cancel()

	pairs, err := client.TopUSDTPairs(discoverCtx, cfg.Discovery.TopPairsLimit)
	if err != nil {
		return nil, err
	}
	log.Info("discovered top pairs", zap.String("exchange", exCfg.Name), zap.Int("count", len(pairs)))

	if exCfg.Name == "kucoin" {
		return toKucoinSymbols(pairs), nil
	}
	return pairs, nil
}

// toKucoinSymbols rewrites Binance-style concatenated pairs into KuCoin's
// dash-separated form, e.g. BTCUSDT -> BTC-USDT.
func toKucoinSymbols(pairs []string) []string {
	out := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if base, ok := strings.CutSuffix(pair, "USDT"); ok {
			out = append(out, base+"-USDT")
		}
	}
	return out
}

func buildAdapter(exCfg config.ExchangeConfig, cfg *config.Config, log *zap.Logger) (exchange.Adapter, error) {
	switch exCfg.Name {
	case "binance":
		url := exCfg.WSURL
		if url == "" {
			url = defaultBinanceWSURL
		}
		return exchange.Adapter{
			Name:       exCfg.Name,
			Source:     exchange.NewBinanceSource(url, log),
			Normalizer: exchange.BinanceNormalizer{},
		}, nil
	case "kucoin":
		url := exCfg.RESTURL
		if url == "" {
			url = defaultKucoinRESTURL
		}
		return exchange.Adapter{
			Name:       exCfg.Name,
			Source:     exchange.NewKucoinSource(url, cfg.Discovery.Timeout(), log),
			Normalizer: exchange.KucoinNormalizer{},
		}, nil
	default:
		return exchange.Adapter{}, fmt.Errorf("unsupported exchange %q", exCfg.Name)
	}
}
