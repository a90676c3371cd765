package exchange

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/market"
)

func Test_BinanceNormalizer_TradeFrame(t *testing.T) {
	frame := []byte(`{"e":"trade","E":1717200003001,"s":"BTCUSDT","t":12345,` +
		`"p":"50000.00","q":"0.01000000","T":1717200003000,"m":false,"M":true}`)

	trade, ok, err := BinanceNormalizer{}.Normalize(frame)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "BTCUSDT", trade.Symbol)
	assert.Equal(t, market.Buy, trade.Side)
	assert.True(t, trade.Price.Equal(decimal.RequireFromString("50000.00")))
	assert.True(t, trade.Quantity.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, time.UnixMilli(1717200003000).UTC(), trade.EventTime)
	assert.Equal(t, "BTC", trade.BaseCurrency)
	assert.Equal(t, "USDT", trade.QuoteCurrency)
	assert.True(t, trade.Value().Equal(decimal.RequireFromString("500")))
}

func Test_BinanceNormalizer_BuyerMakerMeansSell(t *testing.T) {
	frame := []byte(`{"e":"trade","s":"ETHUSDT","p":"3000","q":"1","T":1717200003000,"m":true}`)

	trade, ok, err := BinanceNormalizer{}.Normalize(frame)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, market.Sell, trade.Side)
}

func Test_BinanceNormalizer_NonTradeFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{name: "subscribe ack", frame: `{"result":null,"id":1}`},
		{name: "aggTrade event", frame: `{"e":"aggTrade","s":"BTCUSDT","p":"50000","q":"1","T":1717200003000}`},
		{name: "kline event", frame: `{"e":"kline","s":"BTCUSDT"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := BinanceNormalizer{}.Normalize([]byte(tt.frame))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func Test_BinanceNormalizer_MalformedFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{name: "not json", frame: `{{{`},
		{name: "missing symbol", frame: `{"e":"trade","p":"50000","q":"1","T":1717200003000}`},
		{name: "zero trade time", frame: `{"e":"trade","s":"BTCUSDT","p":"50000","q":"1","T":0}`},
		{name: "bad price", frame: `{"e":"trade","s":"BTCUSDT","p":"fifty","q":"1","T":1717200003000}`},
		{name: "bad quantity", frame: `{"e":"trade","s":"BTCUSDT","p":"50000","q":"","T":1717200003000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := BinanceNormalizer{}.Normalize([]byte(tt.frame))
			require.ErrorIs(t, err, ErrMalformedFrame)
			assert.False(t, ok)
		})
	}
}

func Test_SplitSymbol(t *testing.T) {
	tests := []struct {
		symbol string
		sep    string
		base   string
		quote  string
	}{
		{symbol: "BTCUSDT", sep: "", base: "BTC", quote: "USDT"},
		{symbol: "ETHBTC", sep: "", base: "ETH", quote: "BTC"},
		{symbol: "SOLFDUSD", sep: "", base: "SOL", quote: "FDUSD"},
		{symbol: "BTC-USDT", sep: "-", base: "BTC", quote: "USDT"},
		{symbol: "XYZ", sep: "", base: "XYZ", quote: ""},
	}
	for _, tt := range tests {
		base, quote := splitSymbol(tt.symbol, tt.sep)
		assert.Equal(t, tt.base, base, tt.symbol)
		assert.Equal(t, tt.quote, quote, tt.symbol)
	}
}

func Test_IsAckFrame(t *testing.T) {
	assert.True(t, isAckFrame([]byte(`{"result":null,"id":1}`)))
	assert.True(t, isAckFrame([]byte(`{"id":"sub-1","type":"ack"}`)))
	assert.True(t, isAckFrame([]byte(`{"id":"1","type":"welcome"}`)))
	assert.False(t, isAckFrame([]byte(`{"e":"trade","s":"BTCUSDT"}`)))
	assert.False(t, isAckFrame([]byte(`not json`)))
}

func Test_IsBinanceSubscribeError(t *testing.T) {
	assert.True(t, isBinanceSubscribeError([]byte(`{"error":{"code":2,"msg":"Invalid request"},"id":1}`)))
	assert.False(t, isBinanceSubscribeError([]byte(`{"result":null,"id":1}`)))
	assert.False(t, isBinanceSubscribeError([]byte(`{"error":null,"id":1}`)))
}
