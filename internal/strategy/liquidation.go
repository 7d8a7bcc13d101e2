package strategy

import "math"

// LinearLiquidation is the liquidation price of a quote-settled perp.
func LinearLiquidation(side Side, entry, leverage, maintMargin float64) *float64 {
	if entry <= 0 || leverage <= 0 || side == SideNone {
		return nil
	}
	move := (1 - maintMargin) / leverage
	var liq float64
	if side == SideLong {
		liq = entry * (1 - move)
	} else {
		liq = entry * (1 + move)
	}
	return positive(liq)
}

// InverseLiquidation is the liquidation price of a base-settled (inverse)
// perp. Returns nil when the position cannot be liquidated.
func InverseLiquidation(side Side, entry, leverage, maintMargin float64) *float64 {
	if entry <= 0 || leverage <= 0 || side == SideNone {
		return nil
	}
	var denom float64
	if side == SideLong {
		denom = leverage + 1 - leverage*maintMargin
	} else {
		denom = leverage - 1 + leverage*maintMargin
	}
	if denom <= 0 {
		return nil
	}
	return positive(entry * leverage / denom)
}

// StopLoss sits halfway between entry and liquidation.
func StopLoss(entry float64, liquidation *float64) *float64 {
	if liquidation == nil || entry <= 0 {
		return nil
	}
	return positive(entry + (*liquidation-entry)*0.5)
}

func liquidationFor(leg LegInput) *float64 {
	if leg.Contract == ContractInverse {
		return InverseLiquidation(leg.Side, leg.Price, leg.Leverage, leg.MaintMargin)
	}
	return LinearLiquidation(leg.Side, leg.Price, leg.Leverage, leg.MaintMargin)
}

func positive(v float64) *float64 {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
