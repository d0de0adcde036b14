package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Quote is the outcome of one price lookup. Available=false carries the
// reason instead of an error: a missing price is an expected outcome.
type Quote struct {
	Symbol    string
	Price     float64
	Available bool
	Reason    string
}

func unavailable(symbol, format string, args ...any) Quote {
	return Quote{Symbol: symbol, Reason: fmt.Sprintf(format, args...)}
}

const DefaultTimeout = 8 * time.Second

// Binance fetches spot prices from the public ticker endpoint. It never
// retries; the next tick is the retry.
type Binance struct {
	baseURL string
	client  *http.Client
}

func NewBinance(baseURL string, timeout time.Duration) *Binance {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Binance{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type tickerResponse struct {
	Symbol string          `json:"symbol"`
	Price  json.RawMessage `json:"price"`
}

func (b *Binance) FetchPrice(ctx context.Context, symbol string) Quote {
	u := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", b.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return unavailable(symbol, "build request: %v", err)
	}
	req.Header.Set("User-Agent", "price-alerts/worker")

	resp, err := b.client.Do(req)
	if err != nil {
		return unavailable(symbol, "request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return unavailable(symbol, "read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return unavailable(symbol, "status %d: %s", resp.StatusCode, snippet(body))
	}

	var tr tickerResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return unavailable(symbol, "decode: %v", err)
	}
	price, err := parsePrice(tr.Price)
	if err != nil {
		return unavailable(symbol, "price field: %v", err)
	}
	return Quote{Symbol: symbol, Price: price, Available: true}
}

// parsePrice accepts both a JSON number and a quoted decimal string, which is
// what the exchange actually sends.
func parsePrice(raw json.RawMessage) (float64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, fmt.Errorf("missing")
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("non-positive price %v", v)
	}
	return v, nil
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func (b *Binance) Resolve(userSymbol string) (string, error) {
	return Resolve(userSymbol)
}
