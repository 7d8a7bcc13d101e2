package strategy

import "math"

const daysPerMonth = 30

// Calculate prices a one or two leg position. The venue leg is always
// present; reference may be nil for single-venue strategies. Every number in
// the result is finite.
func Calculate(venue LegInput, reference *LegInput) Metrics {
	legs := []LegInput{venue}
	if reference != nil {
		legs = append(legs, *reference)
	}

	var out Metrics
	legMetrics := make([]LegMetrics, len(legs))
	for i, leg := range legs {
		legMetrics[i] = legFor(leg)
		lm := legMetrics[i]
		out.TotalMarginUSD += lm.MarginUSD
		out.FeesUSD += lm.FeesUSD
		out.DailyFundingUSD += lm.DailyFundingUSD
	}
	out.MonthlyFundingUSD = out.DailyFundingUSD * daysPerMonth
	out.BasisProfitUSD = basisProfit(legs)

	for i, change := range ScenarioChanges {
		pnl := out.BasisProfitUSD + out.MonthlyFundingUSD - out.FeesUSD
		for j, leg := range legs {
			pnl += legPricePnL(leg, legMetrics[j], change)
		}
		out.Scenarios[i] = Scenario{ChangePct: change * 100, PnLUSD: finiteOr(pnl, 0)}
	}
	out.FlatPnLUSD = out.Scenarios[flatScenario].PnLUSD

	out.ROIPct = safeDiv(out.FlatPnLUSD, out.TotalMarginUSD) * 100
	out.APYPct = safeDiv(out.FlatPnLUSD, out.TotalMarginUSD) * 12 * 100
	out.MaxLossUSD = maxLoss(out.Scenarios)
	out.BreakevenDays = breakevenDays(out.FeesUSD, out.DailyFundingUSD)
	out.BreakevenMovePct = breakevenMove(out.MonthlyFundingUSD, out.FeesUSD, legs)

	out.Venue = legMetrics[0]
	if len(legMetrics) > 1 {
		ref := legMetrics[1]
		out.Reference = &ref
	}
	for _, lm := range legMetrics {
		if lm.Liquidation == nil {
			continue
		}
		if out.MinLiquidationDistancePct == 0 || lm.LiquidationDistancePct < out.MinLiquidationDistancePct {
			out.MinLiquidationDistancePct = lm.LiquidationDistancePct
		}
	}
	return out
}

func legFor(leg LegInput) LegMetrics {
	lm := LegMetrics{
		Venue:      leg.Venue,
		Side:       leg.Side,
		SizeUSD:    leg.SizeUSD,
		Leverage:   leg.Leverage,
		EntryPrice: leg.Price,
	}
	if !leg.active() {
		lm.Side = SideNone
		return lm
	}
	dir := float64(leg.Side)
	if leg.BaseMargined {
		lm.MarginBase = finiteOr(leg.SizeUSD/(leg.Leverage*leg.Price), 0)
		lm.MarginUSD = lm.MarginBase * leg.Price
	} else {
		lm.MarginQuote = finiteOr(leg.SizeUSD/leg.Leverage, 0)
		lm.MarginUSD = lm.MarginQuote
	}
	if leg.FeeRate > 0 {
		lm.FeesUSD = finiteOr(2*leg.FeeRate*leg.SizeUSD, 0)
	}
	// Longs pay a positive rate, shorts receive it.
	if leg.BaseMargined {
		fundingBase := -dir * leg.FundingRate * leg.PeriodsPerDay * (leg.SizeUSD / leg.Price)
		lm.DailyFundingUSD = finiteOr(fundingBase*leg.Price, 0)
	} else {
		lm.DailyFundingUSD = finiteOr(-dir*leg.FundingRate*leg.PeriodsPerDay*leg.SizeUSD, 0)
	}
	lm.Liquidation = liquidationFor(leg)
	if lm.Liquidation != nil {
		lm.LiquidationDistancePct = finiteOr(math.Abs(leg.Price-*lm.Liquidation)/leg.Price*100, 0)
	}
	lm.StopLoss = StopLoss(leg.Price, lm.Liquidation)
	return lm
}

// legPricePnL is the leveraged P&L of a leg for a relative price change,
// plus the revaluation of base-asset collateral.
func legPricePnL(leg LegInput, lm LegMetrics, change float64) float64 {
	if lm.Side == SideNone {
		return 0
	}
	pnl := float64(leg.Side) * change * leg.Leverage * lm.MarginUSD
	if leg.BaseMargined {
		pnl += lm.MarginBase * leg.Price * change
	}
	return finiteOr(pnl, 0)
}

// basisProfit only applies to hedges: two active legs on opposite sides.
func basisProfit(legs []LegInput) float64 {
	if len(legs) < 2 {
		return 0
	}
	a, b := legs[0], legs[1]
	if !a.active() || !b.active() || a.Side != b.Side.Opposite() {
		return 0
	}
	size := math.Min(a.SizeUSD, b.SizeUSD)
	return finiteOr(math.Abs(a.Price-b.Price)*size/a.Price, 0)
}

func maxLoss(scenarios [5]Scenario) float64 {
	worst := 0.0
	for _, s := range scenarios {
		if s.PnLUSD < worst {
			worst = s.PnLUSD
		}
	}
	if worst == 0 {
		return 0
	}
	return -worst
}

func breakevenDays(fees, dailyFunding float64) *float64 {
	if dailyFunding <= 0 {
		return nil
	}
	days := fees / dailyFunding
	if math.IsNaN(days) || math.IsInf(days, 0) {
		return nil
	}
	return &days
}

// breakevenMove is the price move, in percent of exposure, that would offset
// a net funding loss. Zero when funding already covers fees.
func breakevenMove(monthlyFunding, fees float64, legs []LegInput) float64 {
	net := monthlyFunding - fees
	if net >= 0 {
		return 0
	}
	exposure := 0.0
	for _, leg := range legs {
		if leg.active() {
			exposure += leg.SizeUSD
		}
	}
	return safeDiv(math.Abs(net), exposure) * 100
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return finiteOr(num/den, 0)
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
