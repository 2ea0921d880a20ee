package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/glassbox/internal/server/middleware"
)

type TokenUsageInput struct {
	Days int `query:"days" default:"30" minimum:"1" maximum:"365" doc:"Lookback window in days"`
}

type TokenUsageOutput struct {
	Body struct {
		PeriodDays        int     `json:"period_days"`
		TotalTokens       int     `json:"total_tokens"`
		TotalCostUSD      float64 `json:"total_cost_usd"`
		TraceCount        int     `json:"trace_count"`
		AvgTokensPerTrace float64 `json:"avg_tokens_per_trace"`
	}
}

func RegisterAnalyticsRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "token-usage-me",
		Method:      http.MethodGet,
		Path:        "/analytics/tokens/me",
		Summary:     "Token and cost totals for the calling client",
		Tags:        []string{"Analytics"},
	}, func(ctx context.Context, input *TokenUsageInput) (*TokenUsageOutput, error) {
		client, ok := middleware.ClientFromContext(ctx)
		if !ok {
			return nil, huma.Error401Unauthorized("missing client context")
		}

		since := time.Now().UTC().AddDate(0, 0, -input.Days)
		stats, err := store.Traces().TokenStatsByClient(ctx, client.ID, since)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to aggregate usage")
		}

		out := &TokenUsageOutput{}
		out.Body.PeriodDays = input.Days
		out.Body.TotalTokens = stats.TotalTokens
		out.Body.TotalCostUSD = stats.TotalCostUSD
		out.Body.TraceCount = stats.TraceCount
		out.Body.AvgTokensPerTrace = stats.AvgTokensPerTrace
		return out, nil
	})
}
