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

const cryptoCompareDefaultURL = "https://min-api.cryptocompare.com"

// CryptoCompare reads spot prices from the CryptoCompare single price endpoint.
type CryptoCompare struct {
	httpFeed
	token string
}

// NewCryptoCompare constructs the feed.
func NewCryptoCompare(opts Options, logger zerolog.Logger) *CryptoCompare {
	return &CryptoCompare{
		httpFeed: newHTTPFeed("cryptocompare", cryptoCompareDefaultURL, opts, logger),
		token:    opts.Token,
	}
}

// FetchRate returns how many quote units one base unit costs.
func (c *CryptoCompare) FetchRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	base = strings.ToUpper(base)
	quote = strings.ToUpper(quote)
	if base == "" || quote == "" {
		return decimal.Decimal{}, fmt.Errorf("cryptocompare: base and quote required")
	}

	query := url.Values{}
	query.Set("fsym", base)
	query.Set("tsyms", quote)
	endpoint := c.baseURL + "/data/price?" + query.Encode()

	headers := map[string]string{}
	if c.token != "" {
		headers["Authorization"] = "Apikey " + c.token
	}

	payload, err := c.get(ctx, endpoint, headers)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var res map[string]json.RawMessage
	if err := json.Unmarshal(payload, &res); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode cryptocompare response: %w", err)
	}

	if status, ok := res["Response"]; ok && strings.Trim(string(status), `"`) == "Error" {
		var apiErr struct {
			Message string `json:"Message"`
		}
		_ = json.Unmarshal(payload, &apiErr)
		return decimal.Decimal{}, fmt.Errorf("cryptocompare api error: %s", apiErr.Message)
	}

	raw, ok := res[quote]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("cryptocompare: no %s price in response", quote)
	}

	rate, err := decimal.NewFromString(strings.Trim(string(raw), `"`))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse cryptocompare price: %w", err)
	}

	c.logger.Debug().Str("pair", base+"/"+quote).Str("rate", rate.String()).Msg("rate fetched")
	return requirePositive("cryptocompare", rate)
}

var _ RateSource = (*CryptoCompare)(nil)
