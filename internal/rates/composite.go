package rates

import (
	"context"
	"time"

	"go.uber.org/multierr"

	pkgerrors "github.com/angelmondragon/otcsettle/pkg/errors"
	"github.com/angelmondragon/otcsettle/pkg/logger"
	"github.com/angelmondragon/otcsettle/pkg/metrics"
)

// NamedSource is a Source that reports its identifier.
type NamedSource interface {
	Source
	ID() string
}

// Composite tries the primary source and falls back on any error. Each
// attempt is bounded by timeout.
type Composite struct {
	primary  NamedSource
	fallback NamedSource
	timeout  time.Duration
	logg     *logger.Logger
	metrics  *metrics.SettlementMetrics
}

// CompositeParams configure a Composite.
type CompositeParams struct {
	Primary  NamedSource
	Fallback NamedSource
	Timeout  time.Duration
	Logger   *logger.Logger
	Metrics  *metrics.SettlementMetrics
}

func NewComposite(params CompositeParams) (*Composite, error) {
	if params.Primary == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "primary rate source required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Composite{
		primary:  params.Primary,
		fallback: params.Fallback,
		timeout:  params.Timeout,
		logg:     logg,
		metrics:  params.Metrics,
	}, nil
}

func (c *Composite) FetchQuotes(ctx context.Context, paymentMethod string, maxCount int) ([]MarketQuote, error) {
	quotes, primaryErr := c.attempt(ctx, c.primary, paymentMethod, maxCount)
	if primaryErr == nil {
		return quotes, nil
	}
	if c.fallback == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNoRateAvailable, primaryErr, "rate source unavailable")
	}

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"rate_source":    c.primary.ID(),
		"fallback":       c.fallback.ID(),
		"payment_method": paymentMethod,
		"error":          primaryErr.Error(),
	})
	c.logg.Warn(logCtx, "primary rate source failed, using fallback")

	quotes, fallbackErr := c.attempt(ctx, c.fallback, paymentMethod, maxCount)
	if fallbackErr == nil {
		return quotes, nil
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeNoRateAvailable,
		multierr.Combine(primaryErr, fallbackErr), "all rate sources unavailable")
}

func (c *Composite) attempt(ctx context.Context, src NamedSource, paymentMethod string, maxCount int) ([]MarketQuote, error) {
	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	quotes, err := src.FetchQuotes(attemptCtx, paymentMethod, maxCount)
	if err == nil {
		quotes = usable(quotes, maxCount)
		if len(quotes) == 0 {
			err = pkgerrors.New(pkgerrors.CodeNoRateAvailable, src.ID()+" returned no usable quotes")
		}
	}
	if err != nil {
		c.metrics.IncRateFetch(src.ID(), "error")
		return nil, err
	}
	c.metrics.IncRateFetch(src.ID(), "ok")
	return quotes, nil
}
