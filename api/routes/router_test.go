package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/otcsettle/internal/settlement"
	"github.com/angelmondragon/otcsettle/pkg/config"
	pkgerrors "github.com/angelmondragon/otcsettle/pkg/errors"
	"github.com/angelmondragon/otcsettle/pkg/logger"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubEngine struct {
	quotes  []settlement.QuoteRequest
	batches [][]string
}

func (s *stubEngine) Quote(ctx context.Context, req settlement.QuoteRequest) (*settlement.Quote, error) {
	s.quotes = append(s.quotes, req)
	if strings.Contains(req.Input, "999999999") {
		return nil, pkgerrors.New(pkgerrors.CodeAmountOutOfRange, "amount exceeds the maximum")
	}
	return &settlement.Quote{
		FiatAmount:    decimal.NewFromInt(1000),
		BaseRate:      decimal.RequireFromString("7.2"),
		Markup:        decimal.RequireFromString("0.05"),
		FinalRate:     decimal.RequireFromString("7.25"),
		PayoutAmount:  decimal.RequireFromString("137.931"),
		RateSourceID:  "okx",
		PaymentMethod: "all",
		QuoteCount:    5,
		QuotedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}, nil
}

func (s *stubEngine) QuoteBatch(ctx context.Context, inputs []string, scopeID *string) ([]settlement.BatchItem, error) {
	s.batches = append(s.batches, inputs)
	out := make([]settlement.BatchItem, 0, len(inputs))
	for _, in := range inputs {
		if in == "abc" {
			out = append(out, settlement.BatchItem{Input: in, Err: pkgerrors.New(pkgerrors.CodeInvalidExpression, "unexpected character")})
			continue
		}
		q, _ := s.Quote(ctx, settlement.QuoteRequest{Input: in, ScopeID: scopeID})
		out = append(out, settlement.BatchItem{Input: in, Quote: q})
	}
	return out, nil
}

func testConfig() *config.Config {
	return &config.Config{App: config.AppConfig{Env: "test"}}
}

func newTestRouter(dbErr error, engine settlement.Engine) http.Handler {
	return NewRouter(testConfig(), logger.Nop(), stubPinger{err: dbErr}, nil, prometheus.NewRegistry(), engine)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(nil, &stubEngine{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "test", rec.Header().Get("X-Otcsettle-Env"))
}

func TestReadyzReportsDependencies(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil, &stubEngine{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	newTestRouter(errors.New("down"), &stubEngine{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, string(pkgerrors.CodeDependency), body.Error.Code)
	require.Equal(t, "unreachable", body.Error.Details["database"])
}

func TestReadyzRedisFailure(t *testing.T) {
	router := NewRouter(testConfig(), logger.Nop(), stubPinger{}, stubPinger{err: errors.New("refused")}, nil, &stubEngine{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "otc_router_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	router := NewRouter(testConfig(), logger.Nop(), stubPinger{}, nil, reg, &stubEngine{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "otc_router_test_total 1")
}

func TestCreateQuoteSingle(t *testing.T) {
	engine := &stubEngine{}
	router := newTestRouter(nil, engine)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/quotes", strings.NewReader(`{"input":"500*2","scope_id":"s1"}`))
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, engine.quotes, 1)
	require.Equal(t, "s1", *engine.quotes[0].ScopeID)

	var body struct {
		Data struct {
			FinalRate    string `json:"final_rate"`
			PayoutAmount string `json:"payout_amount"`
			QuoteCount   int    `json:"quote_count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "7.25", body.Data.FinalRate)
	require.Equal(t, "137.931", body.Data.PayoutAmount)
	require.Equal(t, 5, body.Data.QuoteCount)
}

func TestCreateQuoteBatchCarriesItemErrors(t *testing.T) {
	engine := &stubEngine{}
	router := newTestRouter(nil, engine)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/quotes", strings.NewReader(`{"input":"1000\nabc;2000"}`))
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, [][]string{{"1000", "abc", "2000"}}, engine.batches)

	var body struct {
		Data struct {
			Items []struct {
				Input string `json:"input"`
				Quote *struct {
					FinalRate string `json:"final_rate"`
				} `json:"quote"`
				Error *struct {
					Code string `json:"code"`
				} `json:"error"`
			} `json:"items"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data.Items, 3)
	require.NotNil(t, body.Data.Items[0].Quote)
	require.Nil(t, body.Data.Items[1].Quote)
	require.Equal(t, string(pkgerrors.CodeInvalidExpression), body.Data.Items[1].Error.Code)
}

func TestCreateQuoteRejections(t *testing.T) {
	router := newTestRouter(nil, &stubEngine{})
	cases := map[string]int{
		`{"input":""}`:          http.StatusBadRequest,
		`{"input":"1+"}`:        http.StatusBadRequest,
		`{"input":"999999999"}`: http.StatusBadRequest,
		`{"amount":"5"}`:        http.StatusBadRequest,
	}
	for payload, want := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/quotes", strings.NewReader(payload)))
		if rec.Code != want {
			t.Fatalf("%s: expected %d got %d (%s)", payload, want, rec.Code, rec.Body.String())
		}
	}
}
