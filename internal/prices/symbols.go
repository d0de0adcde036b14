package prices

import (
	"errors"
	"strings"
)

var ErrUnknownSymbol = errors.New("prices: unknown symbol")

// aliases maps user-facing tickers to exchange pairs.
var aliases = map[string]string{
	"BTC":     "BTCUSDT",
	"BITCOIN": "BTCUSDT",
	"ETH":     "ETHUSDT",
	"ETHER":   "ETHUSDT",
	"BNB":     "BNBUSDT",
	"SOL":     "SOLUSDT",
	"XRP":     "XRPUSDT",
	"ADA":     "ADAUSDT",
	"DOGE":    "DOGEUSDT",
	"TRX":     "TRXUSDT",
	"TON":     "TONUSDT",
	"DOT":     "DOTUSDT",
	"AVAX":    "AVAXUSDT",
	"LINK":    "LINKUSDT",
	"LTC":     "LTCUSDT",
	"MATIC":   "MATICUSDT",
	"SHIB":    "SHIBUSDT",
	"PEPE":    "PEPEUSDT",
}

var quoteAssets = []string{"USDT", "USDC", "FDUSD", "BUSD"}

// Resolve maps a user-facing symbol to a canonical pair. Inputs that already
// end in a quote asset pass through upper-cased.
func Resolve(userSymbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(userSymbol))
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	if s == "" {
		return "", ErrUnknownSymbol
	}
	if pair, ok := aliases[s]; ok {
		return pair, nil
	}
	for _, q := range quoteAssets {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return s, nil
		}
	}
	return "", ErrUnknownSymbol
}
