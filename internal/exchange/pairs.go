package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// PairsClient fetches the most traded USDT pairs from the Binance REST API.
// It is used once at startup when no symbol list is configured.
type PairsClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewPairsClient(baseURL string, timeout time.Duration) *PairsClient {
	return &PairsClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// tickerStats is the subset of the 24hr ticker payload we rank by.
type tickerStats struct {
	Symbol      string `json:"symbol"`
	QuoteVolume string `json:"quoteVolume"`
}

// TopUSDTPairs returns the limit USDT-quoted symbols with the highest 24h
// quote volume, leveraged and stable-stable pairs excluded.
func (c *PairsClient) TopUSDTPairs(ctx context.Context, limit int) ([]string, error) {
	endpoint := c.baseURL + "/api/v3/ticker/24hr"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("binance error: %s", body)
	}

	var tickers []tickerStats
	if err := json.NewDecoder(resp.Body).Decode(&tickers); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	type ranked struct {
		symbol string
		volume float64
	}
	candidates := make([]ranked, 0, len(tickers))
	for _, t := range tickers {
		if !strings.HasSuffix(t.Symbol, "USDT") || isExcludedPair(t.Symbol) {
			continue
		}
		volume, err := strconv.ParseFloat(t.QuoteVolume, 64)
		if err != nil {
			continue
		}
		candidates = append(candidates, ranked{symbol: t.Symbol, volume: volume})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].volume > candidates[j].volume
	})

	if limit > len(candidates) {
		limit = len(candidates)
	}
	symbols := make([]string, 0, limit)
	for _, cand := range candidates[:limit] {
		symbols = append(symbols, cand.symbol)
	}
	return symbols, nil
}

// isExcludedPair filters leveraged tokens and stablecoin-to-stablecoin pairs
// that would pollute the top-volume ranking.
func isExcludedPair(symbol string) bool {
	base := strings.TrimSuffix(symbol, "USDT")
	for _, suffix := range []string{"UP", "DOWN", "BULL", "BEAR"} {
		if strings.HasSuffix(base, suffix) && len(base) > len(suffix) {
			return true
		}
	}
	switch base {
	case "USDC", "TUSD", "BUSD", "FDUSD", "DAI", "EUR":
		return true
	}
	return false
}
