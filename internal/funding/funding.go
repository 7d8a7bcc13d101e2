// Package funding holds the venue's pool funding model. Every function is
// pure; rates are per funding period (8h).
package funding

import (
	"math"

	"perp-edge/internal/config"
)

type Direction int

const (
	Long  Direction = 1
	Short Direction = -1
)

// Imbalance is (long-short)/(long+short), 0 for an empty pool.
func Imbalance(long, short float64) float64 {
	total := long + short
	if total <= 0 || !finite(total) {
		return 0
	}
	imb := (long - short) / total
	if !finite(imb) {
		return 0
	}
	return imb
}

// PoolFundingRate is quadratic in the imbalance and keeps its sign: a
// positive rate means longs pay shorts.
func PoolFundingRate(long, short, sensitivity, scale float64) float64 {
	if sensitivity <= 0 || scale <= 0 {
		return 0
	}
	imb := Imbalance(long, short)
	rate := imb * imb / (sensitivity * 8 * scale)
	if !finite(rate) {
		return 0
	}
	if imb < 0 {
		return -rate
	}
	return rate
}

// ApplyCap limits raw to capPct percent of the reference rate. The cap pulls
// toward the reference side: an upper bound for a non-negative reference, a
// lower bound for a negative one. A rate of the opposite sign is held to the
// same magnitude, so |result| never exceeds |capValue|. capPct <= 0 disables
// it.
func ApplyCap(raw, reference, capPct float64) float64 {
	if capPct <= 0 {
		return raw
	}
	capValue := capPct / 100 * reference
	bound := math.Abs(capValue)
	if reference >= 0 {
		return math.Max(math.Min(raw, capValue), -bound)
	}
	return math.Min(math.Max(raw, capValue), bound)
}

type Impact struct {
	Long               float64
	Short              float64
	Skew               float64
	Rate               float64
	IncreasesImbalance bool
}

// TradeImpact simulates adding size on one side of the pool without
// touching the pool itself.
func TradeImpact(long, short, size float64, dir Direction, sensitivity, scale float64) Impact {
	if size < 0 || !finite(size) {
		size = 0
	}
	nextLong, nextShort := long, short
	if dir == Long {
		nextLong += size
	} else {
		nextShort += size
	}
	out := Impact{
		Long:  nextLong,
		Short: nextShort,
		Rate:  PoolFundingRate(nextLong, nextShort, sensitivity, scale),
	}
	if total := nextLong + nextShort; total > 0 {
		out.Skew = nextLong / total
	}
	out.IncreasesImbalance = math.Abs(Imbalance(nextLong, nextShort)) > math.Abs(Imbalance(long, short))
	return out
}

// VenueRate is the pool rate with the configured cap applied against the
// reference venue's current rate.
func VenueRate(pool config.PoolConfig, cfg config.FundingConfig, reference float64) float64 {
	raw := PoolFundingRate(pool.Long(), pool.Short(), cfg.Sensitivity, cfg.Scale)
	return ApplyCap(raw, reference, pool.CapPct)
}

// Annualize converts a per-period rate to an annual percentage.
func Annualize(rate, periodsPerDay float64) float64 {
	apr := rate * periodsPerDay * 365 * 100
	if !finite(apr) {
		return 0
	}
	return apr
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
