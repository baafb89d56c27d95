package controllers

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/otcsettle/api/responses"
	"github.com/angelmondragon/otcsettle/api/validators"
	"github.com/angelmondragon/otcsettle/internal/settlement"
	"github.com/angelmondragon/otcsettle/pkg/logger"
)

type quoteRequest struct {
	Input   string  `json:"input" validate:"required,max=2048"`
	ScopeID *string `json:"scope_id" validate:"omitempty,max=128"`
}

type quoteResponse struct {
	FiatAmount    decimal.Decimal `json:"fiat_amount"`
	BaseRate      decimal.Decimal `json:"base_rate"`
	Markup        decimal.Decimal `json:"markup"`
	FinalRate     decimal.Decimal `json:"final_rate"`
	PayoutAmount  decimal.Decimal `json:"payout_amount"`
	RateSourceID  string          `json:"rate_source_id"`
	PaymentMethod string          `json:"payment_method"`
	QuoteCount    int             `json:"quote_count"`
	QuotedAt      time.Time       `json:"quoted_at"`
}

type batchItemResponse struct {
	Input string              `json:"input"`
	Quote *quoteResponse      `json:"quote,omitempty"`
	Error *responses.APIError `json:"error,omitempty"`
}

func toQuoteResponse(q *settlement.Quote) *quoteResponse {
	return &quoteResponse{
		FiatAmount:    q.FiatAmount,
		BaseRate:      q.BaseRate,
		Markup:        q.Markup,
		FinalRate:     q.FinalRate,
		PayoutAmount:  q.PayoutAmount,
		RateSourceID:  q.RateSourceID,
		PaymentMethod: q.PaymentMethod,
		QuoteCount:    q.QuoteCount,
		QuotedAt:      q.QuotedAt,
	}
}

// CreateQuote quotes a single amount, an arithmetic expression, or a batch of
// amounts separated by newlines or semicolons.
func CreateQuote(engine settlement.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req quoteRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithScopeID(ctx, req.ScopeID)

		parsed, err := settlement.ParseInput(req.Input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if parsed.Kind != settlement.InputBatch {
			quote, err := engine.Quote(ctx, settlement.QuoteRequest{Input: req.Input, ScopeID: req.ScopeID})
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			responses.WriteSuccess(w, toQuoteResponse(quote))
			return
		}

		items, err := engine.QuoteBatch(ctx, parsed.Raw(), req.ScopeID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]batchItemResponse, 0, len(items))
		for _, item := range items {
			row := batchItemResponse{Input: item.Input}
			if item.Err != nil {
				apiErr, _ := responses.ToAPIError(item.Err)
				row.Error = &apiErr
			} else {
				row.Quote = toQuoteResponse(item.Quote)
			}
			out = append(out, row)
		}
		responses.WriteSuccess(w, map[string]any{"items": out})
	}
}

