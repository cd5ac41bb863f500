package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-oracle-updater/internal/version"
)

// Options parameterise an HTTP price feed.
type Options struct {
	Name      string
	BaseURL   string
	Token     string
	Timeout   time.Duration
	UserAgent string
}

// New builds the feed adapter selected by opts.Name.
func New(opts Options, logger zerolog.Logger) (RateSource, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Name)) {
	case "", "cryptocompare":
		return NewCryptoCompare(opts, logger), nil
	case "binance":
		return NewBinance(opts, logger), nil
	default:
		return nil, fmt.Errorf("unsupported rate provider %q", opts.Name)
	}
}

type httpFeed struct {
	name      string
	baseURL   string
	userAgent string
	client    *http.Client
	logger    zerolog.Logger
}

func newHTTPFeed(name, defaultURL string, opts Options, logger zerolog.Logger) httpFeed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultURL
	}

	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = version.UserAgent()
	}

	return httpFeed{
		name:      name,
		baseURL:   baseURL,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", name+"_feed").Logger(),
	}
}

func (f *httpFeed) get(ctx context.Context, endpoint string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", f.name, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", f.name, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", f.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		body := strings.TrimSpace(string(payload))
		if body == "" {
			return nil, fmt.Errorf("%s api error (%d)", f.name, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s api error (%d): %s", f.name, resp.StatusCode, body)
	}

	return payload, nil
}

func requirePositive(name string, rate decimal.Decimal) (decimal.Decimal, error) {
	if rate.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%s returned non-positive rate %s", name, rate.String())
	}
	return rate, nil
}
