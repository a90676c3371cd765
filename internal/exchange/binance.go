package exchange

import (
	"context"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/market"
	"github.com/tinydotai/bitpulse.market-data-aggregator/pkg/ws"
)

const binanceSourceName = "binance"

// subscribeAckWait bounds the wait for a subscription response frame. Binance
// confirms with {"result":null,"id":1}; absence of an error frame within the
// wait also advances the attempt.
const subscribeAckWait = 2 * time.Second

// BinanceSource streams spot trade events from the Binance combined stream
// endpoint. A fresh ws client is built per Connect so a failed connection
// never leaks state into the next attempt.
type BinanceSource struct {
	url    string
	log    *zap.Logger
	client *ws.Client
}

func NewBinanceSource(url string, log *zap.Logger) *BinanceSource {
	return &BinanceSource{url: url, log: log}
}

func (s *BinanceSource) Connect(ctx context.Context) error {
	client := ws.NewClient(binanceSourceName, s.url, s.log)
	if err := client.Dial(ctx); err != nil {
		return err
	}
	s.client = client
	return nil
}

func (s *BinanceSource) Subscribe(ctx context.Context, symbols []string) error {
	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		streams = append(streams, strings.ToLower(sym)+"@trade")
	}

	sub := map[string]any{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     1,
	}
	if err := s.client.WriteJSON(sub); err != nil {
		return err
	}
	return awaitSubscribeAck(ctx, s.client, isBinanceSubscribeError)
}

func (s *BinanceSource) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return s.client.Receive(ctx, timeout)
}

func (s *BinanceSource) Ping(ctx context.Context, timeout time.Duration) error {
	return s.client.Ping(ctx, timeout)
}

func (s *BinanceSource) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// awaitSubscribeAck consumes the subscription response if one arrives in time.
// An explicit error frame fails the attempt; an early data frame is pushed
// back for the receive loop; silence is treated as acceptance.
func awaitSubscribeAck(ctx context.Context, client *ws.Client, isError func([]byte) bool) error {
	frame, err := client.Receive(ctx, subscribeAckWait)
	if err != nil {
		if err == ws.ErrReadTimeout {
			return nil
		}
		return err
	}
	if isError(frame) {
		return ErrSubscription
	}
	if !isAckFrame(frame) {
		client.Unread(frame)
	}
	return nil
}

// isAckFrame reports whether the frame is a subscription response rather than
// a data frame. Binance acks carry "result"; KuCoin acks carry type "ack" or
// "welcome".
func isAckFrame(frame []byte) bool {
	var probe struct {
		Result json.RawMessage `json:"result"`
		ID     json.RawMessage `json:"id"`
		Type   string          `json:"type"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		return false
	}
	if probe.Type == "ack" || probe.Type == "welcome" || probe.Type == "pong" {
		return true
	}
	return len(probe.ID) > 0 && len(probe.Result) > 0
}

func isBinanceSubscribeError(frame []byte) bool {
	var probe struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		return false
	}
	return len(probe.Error) > 0 && string(probe.Error) != "null"
}

// binanceTrade is the raw Binance trade event payload.
type binanceTrade struct {
	Event        string `json:"e"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"` // milliseconds since epoch
	IsBuyerMaker bool   `json:"m"`
}

// BinanceNormalizer parses raw Binance frames into canonical trades.
type BinanceNormalizer struct{}

func (BinanceNormalizer) Normalize(frame []byte) (market.Trade, bool, error) {
	var raw binanceTrade
	if err := json.Unmarshal(frame, &raw); err != nil {
		return market.Trade{}, false, malformed("binance: %v", err)
	}
	if raw.Event != "trade" {
		return market.Trade{}, false, nil
	}
	if raw.Symbol == "" || raw.TradeTime <= 0 {
		return market.Trade{}, false, malformed("binance: missing symbol or trade time")
	}

	price, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return market.Trade{}, false, malformed("binance: price %q", raw.Price)
	}
	quantity, err := decimal.NewFromString(raw.Quantity)
	if err != nil {
		return market.Trade{}, false, malformed("binance: quantity %q", raw.Quantity)
	}

	// The buyer being the maker means the taker sold.
	side := market.Buy
	if raw.IsBuyerMaker {
		side = market.Sell
	}

	base, quote := splitSymbol(raw.Symbol, "")

	return market.Trade{
		Symbol:        raw.Symbol,
		Side:          side,
		Price:         price,
		Quantity:      quantity,
		EventTime:     time.UnixMilli(raw.TradeTime).UTC(),
		BaseCurrency:  base,
		QuoteCurrency: quote,
	}, true, nil
}
