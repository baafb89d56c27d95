package rates

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/otcsettle/pkg/config"
	"github.com/angelmondragon/otcsettle/pkg/logger"
	"github.com/angelmondragon/otcsettle/pkg/metrics"
)

const staticScheme = "static:"

// NewFromConfig wires the primary (OKX) and fallback (Binance) venues. A URL of
// the form "static:7.20" serves a fixed price instead of calling a venue.
func NewFromConfig(cfg config.RatesConfig, logg *logger.Logger, m *metrics.SettlementMetrics) (*Composite, error) {
	market := Market{Fiat: cfg.FiatCurrency, Asset: cfg.Asset}

	primary, err := sourceFor(VenueOKX, cfg.PrimaryURL, market, cfg)
	if err != nil {
		return nil, fmt.Errorf("primary rate source: %w", err)
	}
	params := CompositeParams{
		Primary: primary,
		Timeout: cfg.Timeout,
		Logger:  logg,
		Metrics: m,
	}
	if strings.TrimSpace(cfg.FallbackURL) != "" {
		fallback, err := sourceFor(VenueBinance, cfg.FallbackURL, market, cfg)
		if err != nil {
			return nil, fmt.Errorf("fallback rate source: %w", err)
		}
		params.Fallback = fallback
	}
	return NewComposite(params)
}

func sourceFor(venue, rawURL string, market Market, cfg config.RatesConfig) (NamedSource, error) {
	if price, ok := strings.CutPrefix(strings.TrimSpace(rawURL), staticScheme); ok {
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("static price %q: %w", price, err)
		}
		return NewStatic(venue, p), nil
	}
	return NewVenueClient(venue, rawURL, market, WithTimeout(cfg.Timeout))
}
