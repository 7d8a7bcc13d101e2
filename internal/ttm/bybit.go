package ttm

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"perp-edge/internal/rest"

	"go.uber.org/zap"
)

const (
	bybitHistoryPath = "/v5/market/funding/history"
	bybitPageSize    = 200
)

type bybitHistoryResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol               string `json:"symbol"`
			FundingRate          string `json:"fundingRate"`
			FundingRateTimestamp string `json:"fundingRateTimestamp"`
		} `json:"list"`
	} `json:"result"`
}

// BybitHistory pages inverse-perp funding history backward by end time.
// Bybit returns each page newest first.
type BybitHistory struct {
	client *rest.Client
	symbol string
	now    func() time.Time
}

func NewBybitHistory(baseURL, symbol string, timeout time.Duration, requestsPerSec float64, log *zap.Logger) *BybitHistory {
	return &BybitHistory{
		client: rest.New(baseURL, timeout, requestsPerSec, log),
		symbol: symbol,
		now:    time.Now,
	}
}

func (b *BybitHistory) FundingRates(ctx context.Context, since time.Time, maxSamples int) ([]float64, error) {
	end := b.now().UnixMilli()
	cutoff := since.UnixMilli()
	var rates []float64
	for maxSamples <= 0 || len(rates) < maxSamples {
		query := url.Values{}
		query.Set("category", "inverse")
		query.Set("symbol", b.symbol)
		query.Set("endTime", strconv.FormatInt(end, 10))
		query.Set("limit", strconv.Itoa(bybitPageSize))
		var resp bybitHistoryResponse
		if err := b.client.GetJSON(ctx, bybitHistoryPath, query, &resp); err != nil {
			return nil, fmt.Errorf("bybit funding history: %w", err)
		}
		if resp.RetCode != 0 {
			return nil, fmt.Errorf("bybit funding history: %d %s", resp.RetCode, resp.RetMsg)
		}
		if len(resp.Result.List) == 0 {
			break
		}
		oldest := end
		done := false
		for _, item := range resp.Result.List {
			ts, err := strconv.ParseInt(item.FundingRateTimestamp, 10, 64)
			if err != nil {
				continue
			}
			if ts < oldest {
				oldest = ts
			}
			if ts < cutoff {
				done = true
				continue
			}
			if maxSamples > 0 && len(rates) >= maxSamples {
				break
			}
			v, err := strconv.ParseFloat(item.FundingRate, 64)
			if err != nil {
				continue
			}
			rates = append(rates, v)
		}
		if done || oldest >= end || len(resp.Result.List) < bybitPageSize {
			break
		}
		end = oldest - 1
	}
	return rates, nil
}
