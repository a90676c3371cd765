package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/market"
	"github.com/tinydotai/bitpulse.market-data-aggregator/pkg/ws"
)

const kucoinSourceName = "kucoin"

// KucoinSource streams match events from KuCoin. KuCoin gates its WebSocket
// behind a short-lived token issued by a REST endpoint, so every Connect
// first requests a token and then dials the instance server it names.
type KucoinSource struct {
	restURL    string
	log        *zap.Logger
	httpClient *http.Client
	client     *ws.Client
	pingSeq    int64
}

func NewKucoinSource(restURL string, timeout time.Duration, log *zap.Logger) *KucoinSource {
	return &KucoinSource{
		restURL:    restURL,
		log:        log,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// bulletResponse is the envelope of POST /api/v1/bullet-public.
type bulletResponse struct {
	Code string `json:"code"`
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			PingInterval int64  `json:"pingInterval"`
		} `json:"instanceServers"`
	} `json:"data"`
}

func (s *KucoinSource) Connect(ctx context.Context) error {
	endpoint, token, err := s.fetchToken(ctx)
	if err != nil {
		return fmt.Errorf("kucoin token: %w", err)
	}

	url := fmt.Sprintf("%s?token=%s", endpoint, token)
	client := ws.NewClient(kucoinSourceName, url, s.log)
	if err := client.Dial(ctx); err != nil {
		return err
	}
	s.client = client
	return nil
}

func (s *KucoinSource) fetchToken(ctx context.Context) (endpoint, token string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.restURL+"/api/v1/bullet-public", nil)
	if err != nil {
		return "", "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("kucoin error: %s", body)
	}

	var bullet bulletResponse
	if err := json.NewDecoder(resp.Body).Decode(&bullet); err != nil {
		return "", "", fmt.Errorf("decode response: %w", err)
	}
	if len(bullet.Data.InstanceServers) == 0 || bullet.Data.Token == "" {
		return "", "", fmt.Errorf("kucoin bullet response missing servers or token")
	}

	return bullet.Data.InstanceServers[0].Endpoint, bullet.Data.Token, nil
}

func (s *KucoinSource) Subscribe(ctx context.Context, symbols []string) error {
	for _, sym := range symbols {
		sub := map[string]any{
			"id":             sym,
			"type":           "subscribe",
			"topic":          "/market/match:" + sym,
			"privateChannel": false,
			"response":       true,
		}
		if err := s.client.WriteJSON(sub); err != nil {
			return err
		}
		if err := awaitSubscribeAck(ctx, s.client, isKucoinSubscribeError); err != nil {
			return err
		}
	}
	return nil
}

func (s *KucoinSource) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return s.client.Receive(ctx, timeout)
}

// Ping sends KuCoin's application-level ping in addition to the transport
// ping; the server answers the former with a pong data frame, which the
// liveness wait counts as traffic.
func (s *KucoinSource) Ping(ctx context.Context, timeout time.Duration) error {
	s.pingSeq++
	ping := map[string]any{
		"id":   strconv.FormatInt(s.pingSeq, 10),
		"type": "ping",
	}
	if err := s.client.WriteJSON(ping); err != nil {
		return err
	}
	return s.client.Ping(ctx, timeout)
}

func (s *KucoinSource) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func isKucoinSubscribeError(frame []byte) bool {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		return false
	}
	return probe.Type == "error"
}

// kucoinMatch is the payload of a trade.l3match message.
type kucoinMatch struct {
	Type    string `json:"type"`
	Subject string `json:"subject"`
	Data    struct {
		Symbol string `json:"symbol"`
		Side   string `json:"side"`
		Price  string `json:"price"`
		Size   string `json:"size"`
		Time   string `json:"time"` // nanoseconds since epoch
	} `json:"data"`
}

// KucoinNormalizer parses raw KuCoin frames into canonical trades.
type KucoinNormalizer struct{}

func (KucoinNormalizer) Normalize(frame []byte) (market.Trade, bool, error) {
	var raw kucoinMatch
	if err := json.Unmarshal(frame, &raw); err != nil {
		return market.Trade{}, false, malformed("kucoin: %v", err)
	}
	if raw.Type != "message" || raw.Subject != "trade.l3match" {
		return market.Trade{}, false, nil
	}

	price, err := decimal.NewFromString(raw.Data.Price)
	if err != nil {
		return market.Trade{}, false, malformed("kucoin: price %q", raw.Data.Price)
	}
	size, err := decimal.NewFromString(raw.Data.Size)
	if err != nil {
		return market.Trade{}, false, malformed("kucoin: size %q", raw.Data.Size)
	}
	nanos, err := strconv.ParseInt(raw.Data.Time, 10, 64)
	if err != nil || nanos <= 0 {
		return market.Trade{}, false, malformed("kucoin: time %q", raw.Data.Time)
	}

	var side market.Side
	switch raw.Data.Side {
	case "buy":
		side = market.Buy
	case "sell":
		side = market.Sell
	default:
		return market.Trade{}, false, malformed("kucoin: side %q", raw.Data.Side)
	}

	base, quote := splitSymbol(raw.Data.Symbol, "-")

	return market.Trade{
		Symbol:        raw.Data.Symbol,
		Side:          side,
		Price:         price,
		Quantity:      size,
		EventTime:     time.Unix(0, nanos).UTC(),
		BaseCurrency:  base,
		QuoteCurrency: quote,
	}, true, nil
}
