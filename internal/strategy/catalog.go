package strategy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"perp-edge/internal/config"
	"perp-edge/internal/funding"
	"perp-edge/internal/market"

	"github.com/google/uuid"
)

var (
	ErrNoMarketData = errors.New("no market prices available")
	ErrNoCapital    = errors.New("strategy notional is zero")
)

const (
	VenueName     = "venue"
	ReferenceName = "reference"
	InverseName   = "inverse"
)

// TTMRates are trailing-twelve-month funding averages in annual percent.
type TTMRates struct {
	ReferenceAPR float64
	InverseAPR   float64
}

type Input struct {
	Market  market.MarketState
	Pool    config.PoolConfig
	Funding config.FundingConfig
	Capital config.CapitalConfig
	Venue   config.VenueConfig
	Catalog config.CatalogConfig
	TTM     *TTMRates
	Now     time.Time
}

// Build regenerates the whole catalog from one market snapshot. Ids are
// assigned per template slot in construction order, so an id held by a
// caller maps to the same template on the next build; the list itself is
// ranked by flat-price APY.
func Build(in Input) (Catalog, error) {
	if !in.Market.HasPrices() {
		return Catalog{}, ErrNoMarketData
	}
	size := in.Capital.MaxNotionalUSD()
	if size <= 0 {
		return Catalog{}, ErrNoCapital
	}
	b := newBuilder(in, size)
	b.directional()
	b.harvest()
	b.hedges()
	b.arbitrage()
	b.spread()
	b.conservative()
	b.capitalEfficient()
	b.crossVenue()

	sort.SliceStable(b.out, func(i, j int) bool {
		return b.out[i].Metrics.APYPct > b.out[j].Metrics.APYPct
	})
	return Catalog{
		BuildID:       uuid.NewString(),
		BuiltAt:       in.Now,
		VenueRate:     b.venueRate,
		ReferenceRate: b.refRate,
		InverseRate:   b.invRate,
		Strategies:    b.out,
	}, nil
}

type builder struct {
	in   Input
	size float64

	venuePrice float64
	refPrice   float64
	invPrice   float64
	venueRate  float64
	refRate    float64
	invRate    float64

	out []Strategy
}

func newBuilder(in Input, size float64) *builder {
	ref := in.Market.ReferenceFunding.Rate
	return &builder{
		in:         in,
		size:       size,
		venuePrice: in.Market.VenuePrice(),
		refPrice:   in.Market.ReferencePrice(),
		invPrice:   in.Market.InversePrice,
		venueRate:  funding.VenueRate(in.Pool, in.Funding, ref),
		refRate:    ref,
		invRate:    in.Market.InverseFunding.Rate,
	}
}

func (b *builder) venueLeg(side Side, leverage float64) LegInput {
	return LegInput{
		Venue:         VenueName,
		Side:          side,
		SizeUSD:       b.size,
		Leverage:      leverage,
		Price:         b.venuePrice,
		FundingRate:   b.venueRate,
		PeriodsPerDay: b.in.Funding.PeriodsPerDay,
		MaintMargin:   b.in.Venue.LinearMaintMargin,
		Contract:      ContractLinear,
		BaseMargined:  b.in.Venue.BaseMargined(),
	}
}

func (b *builder) referenceLeg(side Side, leverage float64) *LegInput {
	return &LegInput{
		Venue:         ReferenceName,
		Side:          side,
		SizeUSD:       b.size,
		Leverage:      leverage,
		Price:         b.refPrice,
		FundingRate:   b.refRate,
		PeriodsPerDay: b.in.Venue.ReferencePeriodsDay,
		FeeRate:       b.in.Venue.ReferenceTakerFee,
		MaintMargin:   b.in.Venue.LinearMaintMargin,
		Contract:      ContractLinear,
	}
}

func (b *builder) inverseLeg(side Side, leverage float64) *LegInput {
	return &LegInput{
		Venue:         InverseName,
		Side:          side,
		SizeUSD:       b.size,
		Leverage:      leverage,
		Price:         b.invPrice,
		FundingRate:   b.invRate,
		PeriodsPerDay: b.in.Venue.InversePeriodsDay,
		FeeRate:       b.in.Venue.InverseTakerFee,
		MaintMargin:   b.in.Venue.InverseMaintMargin,
		Contract:      ContractInverse,
		BaseMargined:  true,
	}
}

func (b *builder) add(key string, category Category, description string, venue LegInput, second *LegInput) {
	metrics := Calculate(venue, second)
	if apy, ok := b.ttmAPY(venue, second); ok {
		metrics.TTMAPYPct = &apy
	}
	maxLev := venue.Leverage
	if second != nil && second.Leverage > maxLev {
		maxLev = second.Leverage
	}
	b.out = append(b.out, Strategy{
		ID:          len(b.out) + 1,
		Key:         key,
		Category:    category,
		Risk:        ClassifyRisk(b.in.Catalog, maxLev, metrics),
		Description: description,
		Metrics:     metrics,
	})
}

// ttmAPY reprices the strategy with the trailing averages in place of the
// current rate of the non-venue leg.
func (b *builder) ttmAPY(venue LegInput, second *LegInput) (float64, bool) {
	if b.in.TTM == nil || second == nil {
		return 0, false
	}
	leg := *second
	switch leg.Venue {
	case ReferenceName:
		leg.FundingRate = perPeriod(b.in.TTM.ReferenceAPR, leg.PeriodsPerDay)
	case InverseName:
		leg.FundingRate = perPeriod(b.in.TTM.InverseAPR, leg.PeriodsPerDay)
	default:
		return 0, false
	}
	return Calculate(venue, &leg).APYPct, true
}

func perPeriod(apr, periodsPerDay float64) float64 {
	if periodsPerDay <= 0 {
		return 0
	}
	return finiteOr(apr/100/365/periodsPerDay, 0)
}

func (b *builder) directional() {
	for _, lev := range b.in.Catalog.LeverageTiers {
		for _, side := range []Side{SideLong, SideShort} {
			b.add(
				fmt.Sprintf("directional_%s_%gx", sideKey(side), lev),
				CategoryDirectional,
				fmt.Sprintf("%s venue %gx, $%.0f, no fees", titleSide(side), lev, b.size),
				b.venueLeg(side, lev),
				nil,
			)
		}
	}
}

// harvest takes the side that receives the current venue rate, so the
// calculator's signed funding is already the harvested income.
func (b *builder) harvest() {
	side := receivingSide(b.venueRate)
	lev := b.in.Catalog.ConservativeLev
	b.add(
		"funding_harvest",
		CategoryHarvest,
		fmt.Sprintf("%s venue %gx to collect %.4f%% per period pool funding", titleSide(side), lev, b.venueRate*100),
		b.venueLeg(side, lev),
		nil,
	)
}

func (b *builder) hedges() {
	for _, lev := range b.in.Catalog.LeverageTiers {
		for _, side := range []Side{SideLong, SideShort} {
			b.add(
				fmt.Sprintf("hedge_%s_venue_%gx", sideKey(side), lev),
				CategoryHedge,
				fmt.Sprintf("%s venue / %s reference %gx, delta neutral", titleSide(side), titleSide(side.Opposite()), lev),
				b.venueLeg(side, lev),
				b.referenceLeg(side.Opposite(), lev),
			)
		}
	}
}

// arbSide is the venue side of a venue/reference pair that collects the
// daily funding differential.
func (b *builder) arbSide() Side {
	venueDaily := b.venueRate * b.in.Funding.PeriodsPerDay
	refDaily := b.refRate * b.in.Venue.ReferencePeriodsDay
	if venueDaily >= refDaily {
		return SideShort
	}
	return SideLong
}

func (b *builder) arbitrage() {
	side := b.arbSide()
	for _, lev := range b.in.Catalog.LeverageTiers {
		b.add(
			fmt.Sprintf("funding_arb_%gx", lev),
			CategoryArbitrage,
			fmt.Sprintf("%s venue / %s reference %gx on the funding differential", titleSide(side), titleSide(side.Opposite()), lev),
			b.venueLeg(side, lev),
			b.referenceLeg(side.Opposite(), lev),
		)
	}
}

func (b *builder) spread() {
	side := SideLong
	if b.venuePrice > b.refPrice {
		side = SideShort
	}
	lev := lowestTier(b.in.Catalog.LeverageTiers)
	gap := math.Abs(b.venuePrice - b.refPrice)
	b.add(
		"basis_spread",
		CategorySpread,
		fmt.Sprintf("%s venue / %s reference %gx on a $%.2f basis", titleSide(side), titleSide(side.Opposite()), lev, gap),
		b.venueLeg(side, lev),
		b.referenceLeg(side.Opposite(), lev),
	)
}

func (b *builder) conservative() {
	side := b.arbSide()
	lev := b.in.Catalog.ConservativeLev
	b.add(
		"conservative_hedge",
		CategoryConservative,
		fmt.Sprintf("%s venue / %s reference %gx, wide liquidation buffer", titleSide(side), titleSide(side.Opposite()), lev),
		b.venueLeg(side, lev),
		b.referenceLeg(side.Opposite(), lev),
	)
}

func (b *builder) capitalEfficient() {
	side := b.arbSide()
	lev := b.in.Catalog.EfficientLev
	b.add(
		"capital_efficient_hedge",
		CategoryCapitalEfficient,
		fmt.Sprintf("%s venue / %s reference %gx, minimal margin", titleSide(side), titleSide(side.Opposite()), lev),
		b.venueLeg(side, lev),
		b.referenceLeg(side.Opposite(), lev),
	)
}

// crossVenue pairs the venue with the inverse exchange. It is skipped until
// an inverse price is known.
func (b *builder) crossVenue() {
	if b.invPrice <= 0 {
		return
	}
	venueDaily := b.venueRate * b.in.Funding.PeriodsPerDay
	invDaily := b.invRate * b.in.Venue.InversePeriodsDay
	side := SideLong
	if venueDaily >= invDaily {
		side = SideShort
	}
	lev := lowestTier(b.in.Catalog.LeverageTiers)
	b.add(
		"inverse_arb",
		CategoryCrossVenue,
		fmt.Sprintf("%s venue / %s inverse perp %gx, both legs coin margined", titleSide(side), titleSide(side.Opposite()), lev),
		b.venueLeg(side, lev),
		b.inverseLeg(side.Opposite(), lev),
	)
}

// receivingSide is the side paid by a funding rate: shorts when it is
// positive, longs when negative.
func receivingSide(rate float64) Side {
	if rate < 0 {
		return SideLong
	}
	return SideShort
}

func lowestTier(tiers []float64) float64 {
	lowest := 0.0
	for _, t := range tiers {
		if t > 0 && (lowest == 0 || t < lowest) {
			lowest = t
		}
	}
	if lowest == 0 {
		return 1
	}
	return lowest
}

func sideKey(side Side) string {
	return strings.ToLower(side.String())
}

func titleSide(side Side) string {
	if side == SideLong {
		return "Long"
	}
	return "Short"
}
