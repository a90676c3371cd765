package aggregate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/market"
)

func Test_ValueThreshold_Classify(t *testing.T) {
	detector := NewValueThreshold(decimal.NewFromInt(10000))

	tests := []struct {
		name     string
		price    string
		quantity string
		want     bool
	}{
		{name: "below threshold", price: "50000", quantity: "0.01", want: false},
		{name: "exactly at threshold", price: "10000", quantity: "1", want: true},
		{name: "above threshold", price: "50010", quantity: "0.3", want: true},
		{name: "zero quantity", price: "50000", quantity: "0", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trade := makeTrade("BTCUSDT", market.Buy, tt.price, tt.quantity, time.Now().UTC())
			assert.Equal(t, tt.want, detector.Classify(trade))
		})
	}
}
