package rates

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

const binanceSearchPath = "/bapi/c2c/v2/friendly/c2c/adv/search"

type binanceSearchRequest struct {
	Asset     string   `json:"asset"`
	Fiat      string   `json:"fiat"`
	TradeType string   `json:"tradeType"`
	Page      int      `json:"page"`
	Rows      int      `json:"rows"`
	PayTypes  []string `json:"payTypes"`
}

func buildBinanceRequest(ctx context.Context, baseURL string, market Market, paymentMethod string, maxCount int) (*http.Request, error) {
	rows := maxCount
	if rows <= 0 || rows > 20 {
		rows = 20
	}
	payTypes := []string{}
	if !strings.EqualFold(paymentMethod, PaymentMethodAll) {
		payTypes = append(payTypes, paymentMethod)
	}
	payload, err := json.Marshal(binanceSearchRequest{
		Asset:     strings.ToUpper(market.Asset),
		Fiat:      strings.ToUpper(market.Fiat),
		TradeType: "BUY",
		Page:      1,
		Rows:      rows,
		PayTypes:  payTypes,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+binanceSearchPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

type binanceResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Success *bool  `json:"success"`
	Data    []struct {
		Adv struct {
			Price                decimal.Decimal `json:"price"`
			MinSingleTransAmount decimal.Decimal `json:"minSingleTransAmount"`
			MaxSingleTransAmount decimal.Decimal `json:"maxSingleTransAmount"`
		} `json:"adv"`
		Advertiser struct {
			NickName        string          `json:"nickName"`
			MonthOrderCount int             `json:"monthOrderCount"`
			MonthFinishRate decimal.Decimal `json:"monthFinishRate"`
		} `json:"advertiser"`
	} `json:"data"`
}

func decodeBinance(body io.Reader) ([]MarketQuote, error) {
	var resp binanceResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, err
	}
	if resp.Success != nil && !*resp.Success {
		return nil, fmt.Errorf("binance error %s: %s", resp.Code, resp.Message)
	}
	quotes := make([]MarketQuote, 0, len(resp.Data))
	for _, item := range resp.Data {
		quotes = append(quotes, MarketQuote{
			Price:                  item.Adv.Price,
			MinAmount:              item.Adv.MinSingleTransAmount,
			MaxAmount:              item.Adv.MaxSingleTransAmount,
			CounterpartyName:       item.Advertiser.NickName,
			CompletedOrderEstimate: item.Advertiser.MonthOrderCount,
			CompletionRate:         item.Advertiser.MonthFinishRate,
		})
	}
	return quotes, nil
}
