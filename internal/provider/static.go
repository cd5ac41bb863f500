package provider

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Static replays a fixed sequence of rates; once exhausted it keeps
// returning the last one.
type Static struct {
	mu    sync.Mutex
	rates []decimal.Decimal
	calls int
}

// NewStatic builds a source from the given rates.
func NewStatic(rates ...decimal.Decimal) *Static {
	return &Static{rates: append([]decimal.Decimal(nil), rates...)}
}

// Set replaces the remaining sequence with a single rate.
func (s *Static) Set(rate decimal.Decimal) {
	s.mu.Lock()
	s.rates = []decimal.Decimal{rate}
	s.calls = 0
	s.mu.Unlock()
}

// Calls returns how many times FetchRate was invoked.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Static) FetchRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rates) == 0 {
		return decimal.Decimal{}, errEmptySequence
	}
	idx := s.calls
	if idx >= len(s.rates) {
		idx = len(s.rates) - 1
	}
	s.calls++
	return s.rates[idx], nil
}

var _ RateSource = (*Static)(nil)
