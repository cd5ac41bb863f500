package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type failingSource struct {
	err error
}

func (f failingSource) FetchRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	return decimal.Decimal{}, f.err
}

type recordingSource struct {
	base, quote string
}

func (r *recordingSource) FetchRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	r.base, r.quote = base, quote
	return decimal.NewFromInt(42), nil
}

func TestManagerNotInitialized(t *testing.T) {
	m := NewManager()
	if _, err := m.FetchRate(context.Background(), "BTC", "USD"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestManagerLastRegistrationWins(t *testing.T) {
	m := NewManager()
	m.Register(NewStatic(decimal.NewFromInt(1)))
	m.Register(NewStatic(decimal.NewFromInt(2)))

	rate, err := m.FetchRate(context.Background(), "BTC", "USD")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !rate.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected rate from last registered source, got %s", rate)
	}
}

func TestManagerPropagatesSourceError(t *testing.T) {
	sentinel := errors.New("feed down")
	m := NewManager()
	m.Register(failingSource{err: sentinel})

	if _, err := m.FetchRate(context.Background(), "BTC", "USD"); err != sentinel {
		t.Fatalf("source error should propagate unchanged, got %v", err)
	}
}

func TestManagerDefaultQuote(t *testing.T) {
	src := &recordingSource{}
	m := NewManager()
	m.Register(src)

	if _, err := m.FetchRate(context.Background(), "RBTC", ""); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if src.base != "RBTC" || src.quote != DefaultQuote {
		t.Fatalf("unexpected pair forwarded: %s/%s", src.base, src.quote)
	}
}

func TestStaticSequence(t *testing.T) {
	s := NewStatic(decimal.NewFromInt(2), decimal.NewFromInt(3))
	ctx := context.Background()

	want := []int64{2, 3, 3}
	for i, w := range want {
		rate, err := s.FetchRate(ctx, "BTC", "USD")
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !rate.Equal(decimal.NewFromInt(w)) {
			t.Fatalf("call %d: want %d, got %s", i, w, rate)
		}
	}
	if s.Calls() != 3 {
		t.Fatalf("expected 3 calls, got %d", s.Calls())
	}

	if _, err := NewStatic().FetchRate(ctx, "BTC", "USD"); err == nil {
		t.Fatal("empty static source should fail")
	}
}

func TestNewSelectsFeed(t *testing.T) {
	if _, ok := mustNew(t, "").(*CryptoCompare); !ok {
		t.Fatal("empty name should default to cryptocompare")
	}
	if _, ok := mustNew(t, "Binance").(*Binance); !ok {
		t.Fatal("binance name should select Binance feed")
	}
	if _, err := New(Options{Name: "coingecko"}, noopLogger()); err == nil {
		t.Fatal("unknown provider should fail")
	}
}

func mustNew(t *testing.T, name string) RateSource {
	t.Helper()
	src, err := New(Options{Name: name}, noopLogger())
	if err != nil {
		t.Fatalf("new %q: %v", name, err)
	}
	return src
}
