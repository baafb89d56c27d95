package rates

import (
	"context"
	"sync"

	pkgerrors "github.com/angelmondragon/otcsettle/pkg/errors"
	"github.com/shopspring/decimal"
)

// Static serves fixed quotes; it backs dev mode and tests.
type Static struct {
	mu     sync.RWMutex
	id     string
	quotes []MarketQuote
	err    error
	calls  int
}

// NewStatic returns a source that serves one quote per price.
func NewStatic(id string, prices ...decimal.Decimal) *Static {
	quotes := make([]MarketQuote, 0, len(prices))
	for _, p := range prices {
		quotes = append(quotes, MarketQuote{SourceID: id, Price: p})
	}
	return &Static{id: id, quotes: quotes}
}

func (s *Static) ID() string { return s.id }

// SetError makes subsequent fetches fail with err (nil restores quotes).
func (s *Static) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls reports how many fetches were served.
func (s *Static) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

func (s *Static) FetchQuotes(ctx context.Context, _ string, maxCount int) ([]MarketQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := ctx.Err(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNoRateAvailable, err, s.id+" fetch canceled")
	}
	if s.err != nil {
		return nil, s.err
	}
	out := usable(s.quotes, maxCount)
	if len(out) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNoRateAvailable, s.id+" has no quotes")
	}
	for i := range out {
		out[i].SourceID = s.id
	}
	return out, nil
}
