package strategy

import "perp-edge/internal/config"

const (
	highLeverage   = 10
	mediumLeverage = 5
)

// ClassifyRisk takes the worse of a leverage tier and a tier from the
// nearest liquidation distance measured against the configured volatility
// thresholds.
func ClassifyRisk(cfg config.CatalogConfig, maxLeverage float64, m Metrics) RiskTier {
	tier := leverageTier(maxLeverage)
	if d := distanceTier(cfg, m.MinLiquidationDistancePct); d > tier {
		tier = d
	}
	return tier
}

func leverageTier(leverage float64) RiskTier {
	switch {
	case leverage >= highLeverage:
		return RiskHigh
	case leverage >= mediumLeverage:
		return RiskMedium
	default:
		return RiskLow
	}
}

func distanceTier(cfg config.CatalogConfig, distancePct float64) RiskTier {
	if distancePct <= 0 {
		return RiskLow
	}
	switch {
	case distancePct < cfg.ExtremeDistancePct:
		return RiskExtreme
	case distancePct < cfg.HighDistancePct:
		return RiskHigh
	case distancePct < cfg.MediumDistancePct:
		return RiskMedium
	default:
		return RiskLow
	}
}
