package ttm

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"
)

const binancePageSize = 1000

// BinanceHistory pages USD-M funding history backward in windows sized so
// one window holds at most a page of settlements.
type BinanceHistory struct {
	client   *futures.Client
	symbol   string
	period   time.Duration
	pageSize int
	limiter  *rate.Limiter
	now      func() time.Time
}

func NewBinanceHistory(baseURL, symbol string, periodsPerDay float64, timeout time.Duration, requestsPerSec float64) *BinanceHistory {
	client := futures.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: timeout}
	if baseURL != "" {
		client.SetApiEndpoint(baseURL)
	}
	period := 8 * time.Hour
	if periodsPerDay > 0 {
		period = time.Duration(float64(24*time.Hour) / periodsPerDay)
	}
	return &BinanceHistory{
		client:   client,
		symbol:   symbol,
		period:   period,
		pageSize: binancePageSize,
		limiter:  newLimiter(requestsPerSec),
		now:      time.Now,
	}
}

func (b *BinanceHistory) FundingRates(ctx context.Context, since time.Time, maxSamples int) ([]float64, error) {
	end := b.now()
	window := time.Duration(b.pageSize-1) * b.period
	var rates []float64
	for end.After(since) && (maxSamples <= 0 || len(rates) < maxSamples) {
		start := end.Add(-window)
		if start.Before(since) {
			start = since
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := b.client.NewFundingRateService().
			Symbol(b.symbol).
			StartTime(start.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(b.pageSize).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("binance funding history: %w", err)
		}
		// pages are ascending; walk newest first so the sample cap keeps the
		// most recent settlements
		for i := len(page) - 1; i >= 0; i-- {
			if maxSamples > 0 && len(rates) >= maxSamples {
				break
			}
			v, err := strconv.ParseFloat(page[i].FundingRate, 64)
			if err != nil {
				continue
			}
			rates = append(rates, v)
		}
		end = start.Add(-time.Millisecond)
	}
	return rates, nil
}

func newLimiter(requestsPerSec float64) *rate.Limiter {
	if requestsPerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(requestsPerSec), 1)
}
