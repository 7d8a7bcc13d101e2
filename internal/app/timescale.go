package app

import (
	"perp-edge/internal/market"
	"perp-edge/internal/strategy"
	"perp-edge/internal/timescale"
)

func (a *App) recordTimescale(snap market.MarketState, cat strategy.Catalog) {
	if a.timescale == nil {
		return
	}
	now := cat.BuiltAt.UTC()
	mode := market.ModeLive
	if snap.Manual {
		mode = market.ModeManual
	}
	a.timescale.EnqueueMarket(timescale.MarketSample{
		Time:          now,
		Mode:          string(mode),
		SpotPrice:     snap.SpotPrice,
		FuturesPrice:  snap.FuturesPrice,
		MarkPrice:     snap.MarkPrice,
		InversePrice:  snap.InversePrice,
		VenueRate:     cat.VenueRate,
		ReferenceRate: cat.ReferenceRate,
		InverseRate:   cat.InverseRate,
	})
	for i, s := range cat.Top(a.cfg.Catalog.TopN) {
		a.timescale.EnqueueStrategy(timescale.StrategySample{
			Time:       now,
			BuildID:    cat.BuildID,
			Rank:       i + 1,
			StrategyID: s.ID,
			Key:        s.Key,
			Category:   string(s.Category),
			Risk:       s.Risk.String(),
			APYPct:     s.Metrics.APYPct,
			TTMAPYPct:  s.Metrics.TTMAPYPct,
			MaxLossUSD: s.Metrics.MaxLossUSD,
		})
	}
}
