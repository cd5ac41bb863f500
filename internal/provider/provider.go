package provider

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// DefaultQuote is used when a rate is requested without a quote currency.
const DefaultQuote = "USD"

// ErrNotInitialized is returned when the manager is asked for a rate before
// any source has been registered.
var ErrNotInitialized = errors.New("rate provider is not initialized")

var errEmptySequence = errors.New("static source has no rates")

// RateSource supplies the latest exchange rate for a currency pair.
type RateSource interface {
	FetchRate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// Manager holds exactly one active RateSource and forwards requests to it.
// Registering a new source replaces the previous one.
type Manager struct {
	mu     sync.RWMutex
	source RateSource
}

// NewManager constructs an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register installs the active source.
func (m *Manager) Register(source RateSource) {
	m.mu.Lock()
	m.source = source
	m.mu.Unlock()
}

// FetchRate delegates to the registered source. Source errors are returned unchanged.
func (m *Manager) FetchRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	m.mu.RLock()
	source := m.source
	m.mu.RUnlock()

	if source == nil {
		return decimal.Decimal{}, ErrNotInitialized
	}
	if quote == "" {
		quote = DefaultQuote
	}
	return source.FetchRate(ctx, base, quote)
}

var _ RateSource = (*Manager)(nil)
