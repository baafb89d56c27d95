package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

const okxBooksPath = "/v3/c2c/tradingOrders/books"

func buildOKXRequest(ctx context.Context, baseURL string, market Market, paymentMethod string, _ int) (*http.Request, error) {
	q := url.Values{}
	q.Set("quoteCurrency", strings.ToLower(market.Fiat))
	q.Set("baseCurrency", strings.ToLower(market.Asset))
	// "sell" lists counterparties selling the asset, i.e. what a buyer pays.
	q.Set("side", "sell")
	q.Set("paymentMethod", paymentMethod)
	q.Set("userType", "all")
	return http.NewRequestWithContext(ctx, http.MethodGet, baseURL+okxBooksPath+"?"+q.Encode(), nil)
}

type okxResponse struct {
	Code json.Number `json:"code"`
	Msg  string      `json:"msg"`
	Data struct {
		Sell []okxOrder `json:"sell"`
	} `json:"data"`
}

type okxOrder struct {
	Price                  decimal.Decimal `json:"price"`
	QuoteMinAmountPerOrder decimal.Decimal `json:"quoteMinAmountPerOrder"`
	QuoteMaxAmountPerOrder decimal.Decimal `json:"quoteMaxAmountPerOrder"`
	NickName               string          `json:"nickName"`
	CompletedOrderQuantity json.Number     `json:"completedOrderQuantity"`
	CompletedRate          decimal.Decimal `json:"completedRate"`
}

func decodeOKX(body io.Reader) ([]MarketQuote, error) {
	var resp okxResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, err
	}
	if code := resp.Code.String(); code != "" && code != "0" {
		return nil, fmt.Errorf("okx error %s: %s", code, resp.Msg)
	}
	quotes := make([]MarketQuote, 0, len(resp.Data.Sell))
	for _, o := range resp.Data.Sell {
		completed, _ := o.CompletedOrderQuantity.Int64()
		quotes = append(quotes, MarketQuote{
			Price:                  o.Price,
			MinAmount:              o.QuoteMinAmountPerOrder,
			MaxAmount:              o.QuoteMaxAmountPerOrder,
			CounterpartyName:       o.NickName,
			CompletedOrderEstimate: int(completed),
			CompletionRate:         o.CompletedRate,
		})
	}
	return quotes, nil
}
