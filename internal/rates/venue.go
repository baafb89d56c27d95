package rates

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/otcsettle/pkg/errors"
)

const (
	VenueOKX     = "okx"
	VenueBinance = "binance"

	responseBodyReadLimit int64 = 1 << 20
	errorBodyReadLimit    int64 = 1024
)

// Market names the fiat/asset pair a venue is queried for.
type Market struct {
	Fiat  string
	Asset string
}

type venueSpec struct {
	buildRequest func(ctx context.Context, baseURL string, market Market, paymentMethod string, maxCount int) (*http.Request, error)
	decode       func(body io.Reader) ([]MarketQuote, error)
}

var venueSpecs = map[string]venueSpec{
	VenueOKX:     {buildRequest: buildOKXRequest, decode: decodeOKX},
	VenueBinance: {buildRequest: buildBinanceRequest, decode: decodeBinance},
}

// VenueClient is a Source backed by one venue's public HTTP JSON API.
type VenueClient struct {
	id         string
	spec       venueSpec
	baseURL    string
	market     Market
	httpClient *http.Client
}

// Option configures optional client behavior.
type Option func(*VenueClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *VenueClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *VenueClient) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewVenueClient builds a client for one of the supported venues.
func NewVenueClient(venue, baseURL string, market Market, opts ...Option) (*VenueClient, error) {
	spec, ok := venueSpecs[venue]
	if !ok {
		return nil, fmt.Errorf("unsupported rate venue %q", venue)
	}
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("base url required for venue %s", venue)
	}
	if market.Fiat == "" || market.Asset == "" {
		return nil, fmt.Errorf("fiat and asset required for venue %s", venue)
	}
	client := &VenueClient{
		id:         venue,
		spec:       spec,
		baseURL:    trimmed,
		market:     market,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// ID returns the venue identifier recorded as the rate source.
func (c *VenueClient) ID() string {
	return c.id
}

// FetchQuotes queries the venue. Transport, status and decoding failures all
// surface as CodeNoRateAvailable.
func (c *VenueClient) FetchQuotes(ctx context.Context, paymentMethod string, maxCount int) ([]MarketQuote, error) {
	if strings.TrimSpace(paymentMethod) == "" {
		paymentMethod = PaymentMethodAll
	}
	req, err := c.spec.buildRequest(ctx, c.baseURL, c.market, paymentMethod, maxCount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNoRateAvailable, err, "build "+c.id+" request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNoRateAvailable, err, "execute "+c.id+" request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeNoRateAvailable,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			c.id+" request failed")
	}

	quotes, err := c.spec.decode(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNoRateAvailable, err, "decode "+c.id+" response")
	}
	for i := range quotes {
		quotes[i].SourceID = c.id
	}
	quotes = usable(quotes, maxCount)
	if len(quotes) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNoRateAvailable, c.id+" returned no usable quotes")
	}
	return quotes, nil
}
