package rates

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/otcsettle/pkg/config"
	pkgerrors "github.com/angelmondragon/otcsettle/pkg/errors"
	"github.com/angelmondragon/otcsettle/pkg/metrics"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

var cnyUSDT = Market{Fiat: "CNY", Asset: "USDT"}

func TestOKXFetchQuotes(t *testing.T) {
	const body = `{"code":0,"msg":"","data":{"sell":[
		{"price":"7.20","quoteMinAmountPerOrder":"100","quoteMaxAmountPerOrder":"50000","nickName":"alpha","completedOrderQuantity":"1520","completedRate":"0.9900"},
		{"price":"7.22","quoteMinAmountPerOrder":"500","quoteMaxAmountPerOrder":"20000","nickName":"beta","completedOrderQuantity":88,"completedRate":"0.97"},
		{"price":"0","nickName":"broken"}
	]}}`

	var captured *http.Request
	client, err := NewVenueClient(VenueOKX, "http://okx.test/", cnyUSDT, WithHTTPClient(&http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			captured = req
			return jsonResponse(http.StatusOK, body), nil
		}),
	}))
	require.NoError(t, err)

	quotes, err := client.FetchQuotes(context.Background(), "alipay", 10)
	require.NoError(t, err)

	require.Equal(t, http.MethodGet, captured.Method)
	require.Equal(t, "/v3/c2c/tradingOrders/books", captured.URL.Path)
	q := captured.URL.Query()
	assert.Equal(t, "cny", q.Get("quoteCurrency"))
	assert.Equal(t, "usdt", q.Get("baseCurrency"))
	assert.Equal(t, "alipay", q.Get("paymentMethod"))

	require.Len(t, quotes, 2)
	assert.True(t, quotes[0].Price.Equal(decimal.RequireFromString("7.20")))
	assert.Equal(t, "alpha", quotes[0].CounterpartyName)
	assert.Equal(t, 1520, quotes[0].CompletedOrderEstimate)
	assert.Equal(t, 88, quotes[1].CompletedOrderEstimate)
	assert.Equal(t, VenueOKX, quotes[1].SourceID)
}

func TestBinanceFetchQuotes(t *testing.T) {
	const body = `{"code":"000000","success":true,"data":[
		{"adv":{"price":"7.25","minSingleTransAmount":"200","maxSingleTransAmount":"9000"},"advertiser":{"nickName":"gamma","monthOrderCount":310,"monthFinishRate":0.985}},
		{"adv":{"price":"7.26","minSingleTransAmount":"100","maxSingleTransAmount":"3000"},"advertiser":{"nickName":"delta","monthOrderCount":12,"monthFinishRate":0.9}}
	]}`

	var payload binanceSearchRequest
	client, err := NewVenueClient(VenueBinance, "http://binance.test", cnyUSDT, WithHTTPClient(&http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodPost, req.Method)
			require.Equal(t, "/bapi/c2c/v2/friendly/c2c/adv/search", req.URL.Path)
			raw, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(raw, &payload))
			return jsonResponse(http.StatusOK, body), nil
		}),
	}))
	require.NoError(t, err)

	quotes, err := client.FetchQuotes(context.Background(), PaymentMethodAll, 1)
	require.NoError(t, err)

	assert.Equal(t, "USDT", payload.Asset)
	assert.Equal(t, "CNY", payload.Fiat)
	assert.Empty(t, payload.PayTypes)
	assert.Equal(t, 1, payload.Rows)

	require.Len(t, quotes, 1)
	assert.Equal(t, "gamma", quotes[0].CounterpartyName)
	assert.True(t, quotes[0].CompletionRate.Equal(decimal.RequireFromString("0.985")))
}

func TestVenueFailuresAreNoRateAvailable(t *testing.T) {
	cases := map[string]roundTripFunc{
		"transport": func(*http.Request) (*http.Response, error) {
			return nil, errors.New("dial tcp: refused")
		},
		"status": func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusBadGateway, "upstream down"), nil
		},
		"malformed": func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, "{not json"), nil
		},
		"venue error": func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"code":"51000","msg":"bad param","data":{"sell":[]}}`), nil
		},
		"empty": func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"code":"0","data":{"sell":[]}}`), nil
		},
	}
	for name, rt := range cases {
		t.Run(name, func(t *testing.T) {
			client, err := NewVenueClient(VenueOKX, "http://okx.test", cnyUSDT, WithHTTPClient(&http.Client{Transport: rt}))
			require.NoError(t, err)
			_, err = client.FetchQuotes(context.Background(), "", 5)
			require.True(t, pkgerrors.Is(err, pkgerrors.CodeNoRateAvailable), "got %v", err)
		})
	}
}

func TestNewVenueClientValidation(t *testing.T) {
	_, err := NewVenueClient("kraken", "http://x", cnyUSDT)
	require.Error(t, err)
	_, err = NewVenueClient(VenueOKX, " ", cnyUSDT)
	require.Error(t, err)
	_, err = NewVenueClient(VenueOKX, "http://x", Market{})
	require.Error(t, err)
}

func TestCompositeUsesPrimaryWhenHealthy(t *testing.T) {
	primary := NewStatic("okx", decimal.RequireFromString("7.20"))
	fallback := NewStatic("binance", decimal.RequireFromString("7.30"))
	c, err := NewComposite(CompositeParams{Primary: primary, Fallback: fallback})
	require.NoError(t, err)

	quotes, err := c.FetchQuotes(context.Background(), PaymentMethodAll, 10)
	require.NoError(t, err)
	require.Equal(t, "okx", quotes[0].SourceID)
	require.Zero(t, fallback.Calls())
}

func TestCompositeFallsBackOnAnyError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSettlementMetrics(reg)

	primary := NewStatic("okx", decimal.RequireFromString("7.20"))
	primary.SetError(errors.New("boom"))
	fallback := NewStatic("binance", decimal.RequireFromString("7.30"))
	c, err := NewComposite(CompositeParams{Primary: primary, Fallback: fallback, Metrics: m})
	require.NoError(t, err)

	quotes, err := c.FetchQuotes(context.Background(), PaymentMethodAll, 10)
	require.NoError(t, err)
	require.Equal(t, "binance", quotes[0].SourceID)
	require.Equal(t, 1, primary.Calls())
	require.Equal(t, 1, fallback.Calls())
}

func TestCompositeBothFail(t *testing.T) {
	primary := NewStatic("okx")
	fallback := NewStatic("binance")
	fallback.SetError(errors.New("fallback down"))
	c, err := NewComposite(CompositeParams{Primary: primary, Fallback: fallback})
	require.NoError(t, err)

	_, err = c.FetchQuotes(context.Background(), PaymentMethodAll, 10)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNoRateAvailable))
	require.ErrorContains(t, errors.Unwrap(err), "fallback down")
}

type slowSource struct{ id string }

func (s slowSource) ID() string { return s.id }

func (s slowSource) FetchQuotes(ctx context.Context, _ string, _ int) ([]MarketQuote, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCompositeTimeoutTriggersFallback(t *testing.T) {
	fallback := NewStatic("binance", decimal.RequireFromString("7.30"))
	c, err := NewComposite(CompositeParams{
		Primary:  slowSource{id: "okx"},
		Fallback: fallback,
		Timeout:  20 * time.Millisecond,
	})
	require.NoError(t, err)

	quotes, err := c.FetchQuotes(context.Background(), PaymentMethodAll, 10)
	require.NoError(t, err)
	require.Equal(t, "binance", quotes[0].SourceID)
}

func TestNewFromConfigStaticSources(t *testing.T) {
	c, err := NewFromConfig(config.RatesConfig{
		PrimaryURL:   "static:7.20",
		FallbackURL:  "static:7.40",
		FiatCurrency: "CNY",
		Asset:        "USDT",
		Timeout:      time.Second,
	}, nil, nil)
	require.NoError(t, err)

	quotes, err := c.FetchQuotes(context.Background(), PaymentMethodAll, 10)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	require.True(t, quotes[0].Price.Equal(decimal.RequireFromString("7.20")))

	_, err = NewFromConfig(config.RatesConfig{PrimaryURL: "static:abc", FiatCurrency: "CNY", Asset: "USDT"}, nil, nil)
	require.Error(t, err)
}
