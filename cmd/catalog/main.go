package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"perp-edge/internal/config"
	"perp-edge/internal/funding"
	"perp-edge/internal/logging"
	"perp-edge/internal/market"
	"perp-edge/internal/metrics"
	"perp-edge/internal/state"
	"perp-edge/internal/strategy"
	"perp-edge/internal/ttm"

	"go.uber.org/zap"
)

type impactReport struct {
	Side               string  `json:"side"`
	SizeUSD            float64 `json:"size_usd"`
	LongUSD            float64 `json:"long_usd"`
	ShortUSD           float64 `json:"short_usd"`
	Skew               float64 `json:"skew"`
	Rate               float64 `json:"rate"`
	IncreasesImbalance bool    `json:"increases_imbalance"`
}

type report struct {
	Imbalance     float64                 `json:"imbalance"`
	TimeToFunding market.FundingCountdown `json:"time_to_funding"`
	Impact        *impactReport           `json:"impact,omitempty"`
	TTM           *ttm.Averages           `json:"ttm,omitempty"`
	Strategy      *strategy.Strategy      `json:"strategy,omitempty"`
	Catalog       *strategy.Catalog       `json:"catalog,omitempty"`
}

func main() {
	configPath := flag.String("config", "", "optional config path; defaults apply otherwise")
	spot := flag.Float64("spot", 0, "venue spot price")
	futures := flag.Float64("futures", 0, "reference futures price (defaults to spot)")
	mark := flag.Float64("mark", 0, "reference mark price (defaults to futures)")
	inverse := flag.Float64("inverse", 0, "inverse perp price (defaults to spot)")
	refRate := flag.Float64("reference-rate", 0, "reference funding rate per period")
	invRate := flag.Float64("inverse-rate", 0, "inverse funding rate per period")
	poolTotal := flag.Float64("pool-total", 0, "pool total in USD")
	skew := flag.Float64("skew", 0, "long share of the pool in [0, 1]")
	capPct := flag.Float64("cap", 0, "funding cap as percent of the reference rate (0 disables)")
	tradeSize := flag.Float64("trade-size", 0, "strategy notional in USD")
	tvl := flag.Float64("tvl", 0, "venue TVL in USD")
	top := flag.Int("top", 0, "print only the top n strategies")
	id := flag.Int("id", 0, "print a single strategy by id")
	withTTM := flag.Bool("ttm", false, "fetch trailing-twelve-month funding averages")
	impactSize := flag.Float64("impact-size", 0, "simulate a trade of this USD size on the pool")
	impactSide := flag.String("impact-side", "long", "side of the simulated trade (long or short)")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fatal(err)
	}
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	overrideFloat(set, "spot", *spot, &cfg.Manual.SpotPrice)
	overrideFloat(set, "futures", *futures, &cfg.Manual.FuturesPrice)
	overrideFloat(set, "mark", *mark, &cfg.Manual.MarkPrice)
	overrideFloat(set, "inverse", *inverse, &cfg.Manual.InversePrice)
	overrideFloat(set, "reference-rate", *refRate, &cfg.Manual.ReferenceFundingRate)
	overrideFloat(set, "inverse-rate", *invRate, &cfg.Manual.InverseFundingRate)
	overrideFloat(set, "pool-total", *poolTotal, &cfg.Pool.TotalUSD)
	overrideFloat(set, "skew", *skew, &cfg.Pool.Skew)
	overrideFloat(set, "cap", *capPct, &cfg.Pool.CapPct)
	overrideFloat(set, "trade-size", *tradeSize, &cfg.Capital.TradeSizeUSD)
	overrideFloat(set, "tvl", *tvl, &cfg.Capital.TVLUSD)
	if cfg.Manual.SpotPrice <= 0 {
		fatal(errors.New("-spot (or manual.spot_price) is required"))
	}

	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	feeds := market.NewFeedManager(cfg.Feeds, cfg.Manual, metrics.NewNoop(), log)
	if err := feeds.SetMode(market.ModeManual); err != nil {
		fatal(err)
	}
	defer feeds.Close()
	snap := feeds.Snapshot()

	out := report{
		Imbalance:     funding.Imbalance(cfg.Pool.Long(), cfg.Pool.Short()),
		TimeToFunding: feeds.TimeToFunding(),
	}
	if *impactSize > 0 {
		impact, err := simulateImpact(cfg, *impactSize, *impactSide)
		if err != nil {
			fatal(err)
		}
		out.Impact = impact
	}

	input := strategy.Input{
		Market:  snap,
		Pool:    cfg.Pool,
		Funding: cfg.Funding,
		Capital: cfg.Capital,
		Venue:   cfg.Venue,
		Catalog: cfg.Catalog,
		Now:     time.Now().UTC(),
	}
	if *withTTM {
		avg, err := fetchTTM(cfg, log)
		if err != nil {
			log.Warn("ttm averages unavailable", zap.Error(err))
		} else {
			out.TTM = &avg
			rates := avg.Rates()
			input.TTM = &rates
		}
	}
	cat, err := strategy.Build(input)
	if err != nil {
		fatal(err)
	}
	switch {
	case *id > 0:
		s, ok := cat.Find(*id)
		if !ok {
			fatal(fmt.Errorf("strategy %d not in catalog", *id))
		}
		out.Strategy = &s
	default:
		cat.Strategies = cat.Top(*top)
		out.Catalog = &cat
	}

	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(pretty))
}

func overrideFloat(set map[string]bool, name string, value float64, dst *float64) {
	if set[name] {
		*dst = value
	}
}

func simulateImpact(cfg *config.Config, size float64, side string) (*impactReport, error) {
	var dir funding.Direction
	switch strings.ToLower(side) {
	case "long":
		dir = funding.Long
	case "short":
		dir = funding.Short
	default:
		return nil, fmt.Errorf("invalid -impact-side %q", side)
	}
	impact := funding.TradeImpact(cfg.Pool.Long(), cfg.Pool.Short(), size, dir, cfg.Funding.Sensitivity, cfg.Funding.Scale)
	return &impactReport{
		Side:               strings.ToLower(side),
		SizeUSD:            size,
		LongUSD:            impact.Long,
		ShortUSD:           impact.Short,
		Skew:               impact.Skew,
		Rate:               impact.Rate,
		IncreasesImbalance: impact.IncreasesImbalance,
	}, nil
}

func fetchTTM(cfg *config.Config, log *zap.Logger) (ttm.Averages, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	store, err := state.Open(ctx, cfg.State)
	if err != nil {
		log.Warn("state store unavailable, ttm cache disabled", zap.Error(err))
		store = state.NewMemory()
	}
	defer store.Close()
	return ttm.NewService(cfg.TTM, store, metrics.NewNoop(), log).Get(ctx)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
