package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const binanceDefaultURL = "https://api.binance.com"

// Binance reads the last traded price from the Binance ticker endpoint.
type Binance struct {
	httpFeed
}

// NewBinance constructs the feed.
func NewBinance(opts Options, logger zerolog.Logger) *Binance {
	return &Binance{httpFeed: newHTTPFeed("binance", binanceDefaultURL, opts, logger)}
}

func (b *Binance) FetchRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	symbol := strings.ToUpper(base + quote)
	if base == "" || quote == "" {
		return decimal.Decimal{}, fmt.Errorf("binance: base and quote required")
	}

	endpoint := b.baseURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(symbol)
	payload, err := b.get(ctx, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var res struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode binance response: %w", err)
	}

	rate, err := decimal.NewFromString(res.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to convert price from Binance: %w", err)
	}

	b.logger.Debug().Str("symbol", symbol).Str("rate", rate.String()).Msg("rate fetched")
	return requirePositive("binance", rate)
}

var _ RateSource = (*Binance)(nil)
