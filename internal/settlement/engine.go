// Package settlement converts fiat amounts into payout quotes at a
// markup-adjusted market rate.
package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/otcsettle/internal/rates"
	"github.com/angelmondragon/otcsettle/pkg/config"
	"github.com/angelmondragon/otcsettle/pkg/db/models"
	pkgerrors "github.com/angelmondragon/otcsettle/pkg/errors"
	"github.com/angelmondragon/otcsettle/pkg/logger"
	"github.com/angelmondragon/otcsettle/pkg/metrics"
)

// rateScale matches the precision of the persisted rate columns.
const rateScale = 8

// Quote is an ephemeral settlement offer. It is never persisted on its own.
type Quote struct {
	FiatAmount    decimal.Decimal
	BaseRate      decimal.Decimal
	Markup        decimal.Decimal
	FinalRate     decimal.Decimal
	PayoutAmount  decimal.Decimal
	RateSourceID  string
	PaymentMethod string
	QuoteCount    int
	ScopeID       *string
	QuotedAt      time.Time
}

// QuoteRequest asks for a quote of a single amount or expression.
type QuoteRequest struct {
	Input   string
	ScopeID *string
}

// BatchItem is the outcome of one input of a batch.
type BatchItem struct {
	Input string
	Quote *Quote
	Err   error
}

type scopeSettingsReader interface {
	Get(ctx context.Context, scopeID string) (*models.ScopeSetting, error)
}

// Engine produces quotes. It is safe for concurrent use.
type Engine interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
	QuoteBatch(ctx context.Context, inputs []string, scopeID *string) ([]BatchItem, error)
}

// EngineParams wires an Engine.
type EngineParams struct {
	Source     rates.Source
	Settings   scopeSettingsReader
	Settlement config.SettlementConfig
	Rates      config.RatesConfig
	Metrics    *metrics.SettlementMetrics
	Logger     *logger.Logger
	Clock      func() time.Time
}

type engine struct {
	source   rates.Source
	settings scopeSettingsReader
	cfg      config.SettlementConfig
	rateCfg  config.RatesConfig
	metrics  *metrics.SettlementMetrics
	logg     *logger.Logger
	now      func() time.Time
	fetches  singleflight.Group
}

func NewEngine(params EngineParams) (Engine, error) {
	if params.Source == nil {
		return nil, fmt.Errorf("rate source required")
	}
	if params.Settings == nil {
		return nil, fmt.Errorf("scope settings repository required")
	}
	if params.Settlement.MaxFiat.LessThanOrEqual(params.Settlement.MinFiat) {
		return nil, fmt.Errorf("max fiat must exceed min fiat")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	rateCfg := params.Rates
	if strings.TrimSpace(rateCfg.PaymentMethod) == "" {
		rateCfg.PaymentMethod = rates.PaymentMethodAll
	}
	return &engine{
		source:   params.Source,
		settings: params.Settings,
		cfg:      params.Settlement,
		rateCfg:  rateCfg,
		metrics:  params.Metrics,
		logg:     logg,
		now:      now,
	}, nil
}

// snapshot is the rate state one quote or batch is priced against.
type snapshot struct {
	baseRate      decimal.Decimal
	sourceID      string
	quoteCount    int
	markup        decimal.Decimal
	paymentMethod string
	fetchedAt     time.Time
}

func (s snapshot) finalRate() decimal.Decimal {
	return s.baseRate.Add(s.markup)
}

func (e *engine) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	parsed, err := ParseInput(req.Input)
	if err != nil {
		e.metrics.IncQuote(string(pkgerrors.CodeOf(err)))
		return nil, err
	}
	if parsed.Kind == InputBatch {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "multiple amounts supplied; request a batch quote")
	}
	amount, err := e.checkBounds(parsed.Items[0].Amount)
	if err != nil {
		e.metrics.IncQuote(string(pkgerrors.CodeOf(err)))
		return nil, err
	}
	snap, err := e.snapshot(ctx, req.ScopeID)
	if err != nil {
		e.metrics.IncQuote(string(pkgerrors.CodeOf(err)))
		return nil, err
	}
	quote := e.price(amount, snap, req.ScopeID)
	e.metrics.IncQuote("ok")
	return quote, nil
}

func (e *engine) QuoteBatch(ctx context.Context, inputs []string, scopeID *string) ([]BatchItem, error) {
	if len(inputs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no amounts supplied")
	}
	if e.cfg.MaxBatchSize > 0 && len(inputs) > e.cfg.MaxBatchSize {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("batch exceeds %d amounts", e.cfg.MaxBatchSize))
	}

	items := make([]BatchItem, len(inputs))
	amounts := make([]decimal.Decimal, len(inputs))
	valid := 0
	for i, raw := range inputs {
		items[i].Input = raw
		amount, err := EvaluateExpression(raw)
		if err == nil {
			amount, err = e.checkBounds(amount)
		}
		if err != nil {
			items[i].Err = err
			e.metrics.IncQuote(string(pkgerrors.CodeOf(err)))
			continue
		}
		amounts[i] = amount
		valid++
	}
	if valid == 0 {
		return items, nil
	}

	snap, err := e.snapshot(ctx, scopeID)
	if err != nil {
		e.metrics.IncQuote(string(pkgerrors.CodeOf(err)))
		return nil, err
	}
	for i := range items {
		if items[i].Err != nil {
			continue
		}
		items[i].Quote = e.price(amounts[i], snap, scopeID)
		e.metrics.IncQuote("ok")
	}
	return items, nil
}

// checkBounds rounds the amount to fiat precision and enforces the configured range.
func (e *engine) checkBounds(amount decimal.Decimal) (decimal.Decimal, error) {
	rounded := amount.Round(e.cfg.FiatPlaces)
	if rounded.LessThan(e.cfg.MinFiat) || rounded.GreaterThan(e.cfg.MaxFiat) {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeAmountOutOfRange,
			fmt.Sprintf("amount %s outside [%s, %s]", rounded.String(), e.cfg.MinFiat.String(), e.cfg.MaxFiat.String())).
			WithDetails(map[string]string{
				"amount": rounded.String(),
				"min":    e.cfg.MinFiat.String(),
				"max":    e.cfg.MaxFiat.String(),
			})
	}
	return rounded, nil
}

func (e *engine) price(amount decimal.Decimal, snap snapshot, scopeID *string) *Quote {
	final := snap.finalRate()
	return &Quote{
		FiatAmount:    amount,
		BaseRate:      snap.baseRate,
		Markup:        snap.markup,
		FinalRate:     final,
		PayoutAmount:  amount.DivRound(final, divisionPrecision).Round(e.cfg.PayoutPlaces),
		RateSourceID:  snap.sourceID,
		PaymentMethod: snap.paymentMethod,
		QuoteCount:    snap.quoteCount,
		ScopeID:       scopeID,
		QuotedAt:      snap.fetchedAt,
	}
}

// snapshot resolves scope overrides and fetches the base rate for the
// resulting payment-method tag.
func (e *engine) snapshot(ctx context.Context, scopeID *string) (snapshot, error) {
	markup := e.cfg.DefaultMarkup
	paymentMethod := e.rateCfg.PaymentMethod
	if scopeID != nil && *scopeID != "" {
		setting, err := e.settings.Get(ctx, *scopeID)
		if err != nil {
			return snapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load scope settings")
		}
		if setting != nil {
			if setting.Markup != nil {
				markup = *setting.Markup
			}
			if setting.PaymentMethod != nil && strings.TrimSpace(*setting.PaymentMethod) != "" {
				paymentMethod = *setting.PaymentMethod
			}
		}
	}

	base, err := e.baseRate(ctx, paymentMethod)
	if err != nil {
		return snapshot{}, err
	}
	snap := snapshot{
		baseRate:      base.rate,
		sourceID:      base.sourceID,
		quoteCount:    base.count,
		markup:        markup,
		paymentMethod: paymentMethod,
		fetchedAt:     base.fetchedAt,
	}
	if !snap.finalRate().IsPositive() {
		return snapshot{}, pkgerrors.New(pkgerrors.CodeNoRateAvailable,
			fmt.Sprintf("final rate %s is not positive", snap.finalRate().String()))
	}
	return snap, nil
}

type baseRate struct {
	rate      decimal.Decimal
	sourceID  string
	count     int
	fetchedAt time.Time
}

// baseRate averages the top quotes of the tag. Concurrent callers asking for
// the same tag share one upstream fetch, which is detached from the first
// caller's cancellation; the source bounds each attempt with its own timeout.
func (e *engine) baseRate(ctx context.Context, paymentMethod string) (baseRate, error) {
	fetchCtx := context.WithoutCancel(ctx)
	v, err, shared := e.fetches.Do(paymentMethod, func() (any, error) {
		quotes, err := e.source.FetchQuotes(fetchCtx, paymentMethod, e.rateCfg.MaxQuotes)
		if err != nil {
			return nil, err
		}
		return averagePrice(quotes, e.now())
	})
	if err != nil {
		if !pkgerrors.Is(err, pkgerrors.CodeNoRateAvailable) {
			err = pkgerrors.Wrap(pkgerrors.CodeNoRateAvailable, err, "fetch market quotes")
		}
		logCtx := e.logg.WithField(ctx, "payment_method", paymentMethod)
		e.logg.Warn(logCtx, "rate snapshot unavailable: "+err.Error())
		return baseRate{}, err
	}
	if shared {
		e.logg.Debug(e.logg.WithField(ctx, "payment_method", paymentMethod), "rate snapshot shared")
	}
	return v.(baseRate), nil
}

func averagePrice(quotes []rates.MarketQuote, at time.Time) (baseRate, error) {
	sum := decimal.Zero
	count := 0
	for _, q := range quotes {
		if !q.Price.IsPositive() {
			continue
		}
		sum = sum.Add(q.Price)
		count++
	}
	if count == 0 {
		return baseRate{}, pkgerrors.New(pkgerrors.CodeNoRateAvailable, "no usable market quotes")
	}
	return baseRate{
		rate:      sum.DivRound(decimal.NewFromInt(int64(count)), rateScale),
		sourceID:  quotes[0].SourceID,
		count:     count,
		fetchedAt: at,
	}, nil
}
