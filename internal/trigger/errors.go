package trigger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrStopped is returned by Run on a trigger that has been stopped.
	ErrStopped = errors.New("trigger: stopped")
	// ErrAlreadyRunning is returned by Run when the trigger is already started.
	ErrAlreadyRunning = errors.New("trigger: already running")
)

// FeedError wraps a failure to fetch the rate from the feed.
type FeedError struct {
	Pair Pair
	Err  error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("fetch %s rate: %v", e.Pair, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// SinkError wraps a failure to commit a rate to the oracle. The rate is not
// considered committed.
type SinkError struct {
	Rate decimal.Decimal
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("commit rate %s: %v", e.Rate.String(), e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
