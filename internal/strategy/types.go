package strategy

import "time"

type Side int

const (
	SideNone  Side = 0
	SideLong  Side = 1
	SideShort Side = -1
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "NONE"
	}
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s Side) Opposite() Side {
	return -s
}

// Contract selects the liquidation formula for a leg.
type Contract int

const (
	ContractLinear Contract = iota
	ContractInverse
)

type Category string

const (
	CategoryDirectional      Category = "directional"
	CategoryHarvest          Category = "funding_harvest"
	CategoryHedge            Category = "hedge"
	CategoryArbitrage        Category = "funding_arbitrage"
	CategorySpread           Category = "basis_spread"
	CategoryConservative     Category = "conservative"
	CategoryCapitalEfficient Category = "capital_efficient"
	CategoryCrossVenue       Category = "cross_venue_arbitrage"
)

type RiskTier int

const (
	RiskLow RiskTier = iota
	RiskMedium
	RiskHigh
	RiskExtreme
)

func (r RiskTier) String() string {
	switch r {
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskExtreme:
		return "extreme"
	default:
		return "low"
	}
}

func (r RiskTier) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// LegInput describes one position. Rates are per funding period.
type LegInput struct {
	Venue         string
	Side          Side
	SizeUSD       float64
	Leverage      float64
	Price         float64
	FundingRate   float64
	PeriodsPerDay float64
	FeeRate       float64
	MaintMargin   float64
	Contract      Contract
	// BaseMargined legs post collateral in the base asset, so the collateral
	// itself moves with price.
	BaseMargined bool
}

func (l LegInput) active() bool {
	return l.Side != SideNone && l.SizeUSD > 0 && l.Leverage > 0 && l.Price > 0
}

type LegMetrics struct {
	Venue                  string   `json:"venue"`
	Side                   Side     `json:"side"`
	SizeUSD                float64  `json:"size_usd"`
	Leverage               float64  `json:"leverage"`
	EntryPrice             float64  `json:"entry_price"`
	MarginBase             float64  `json:"margin_base"`
	MarginQuote            float64  `json:"margin_quote"`
	MarginUSD              float64  `json:"margin_usd"`
	FeesUSD                float64  `json:"fees_usd"`
	DailyFundingUSD        float64  `json:"daily_funding_usd"`
	Liquidation            *float64 `json:"liquidation_price"`
	LiquidationDistancePct float64  `json:"liquidation_distance_pct"`
	StopLoss               *float64 `json:"stop_loss_price"`
}

type Scenario struct {
	ChangePct float64 `json:"change_pct"`
	PnLUSD    float64 `json:"pnl_usd"`
}

// ScenarioChanges are the price moves every strategy is evaluated at.
var ScenarioChanges = [5]float64{-0.10, -0.05, 0, 0.05, 0.10}

const flatScenario = 2

type Metrics struct {
	Venue             LegMetrics  `json:"venue_leg"`
	Reference         *LegMetrics `json:"reference_leg,omitempty"`
	TotalMarginUSD    float64     `json:"total_margin_usd"`
	FeesUSD           float64     `json:"fees_usd"`
	DailyFundingUSD   float64     `json:"daily_funding_usd"`
	MonthlyFundingUSD float64     `json:"monthly_funding_usd"`
	BasisProfitUSD    float64     `json:"basis_profit_usd"`
	Scenarios         [5]Scenario `json:"scenarios"`
	FlatPnLUSD        float64     `json:"flat_pnl_usd"`
	ROIPct            float64     `json:"roi_pct"`
	APYPct            float64     `json:"apy_pct"`
	TTMAPYPct         *float64    `json:"ttm_apy_pct,omitempty"`
	MaxLossUSD        float64     `json:"max_loss_usd"`
	BreakevenDays     *float64    `json:"breakeven_days"`
	BreakevenMovePct  float64     `json:"breakeven_move_pct"`

	// MinLiquidationDistancePct is 0 when no leg can be liquidated.
	MinLiquidationDistancePct float64 `json:"min_liquidation_distance_pct"`
}

type Strategy struct {
	ID          int      `json:"id"`
	Key         string   `json:"key"`
	Category    Category `json:"category"`
	Risk        RiskTier `json:"risk"`
	Description string   `json:"description"`
	Metrics     Metrics  `json:"metrics"`
}

type Catalog struct {
	BuildID       string     `json:"build_id"`
	BuiltAt       time.Time  `json:"built_at"`
	VenueRate     float64    `json:"venue_rate"`
	ReferenceRate float64    `json:"reference_rate"`
	InverseRate   float64    `json:"inverse_rate"`
	Strategies    []Strategy `json:"strategies"`
}

// Find re-resolves an id held from a previous build.
func (c Catalog) Find(id int) (Strategy, bool) {
	for _, s := range c.Strategies {
		if s.ID == id {
			return s, true
		}
	}
	return Strategy{}, false
}

func (c Catalog) Top(n int) []Strategy {
	if n <= 0 || n >= len(c.Strategies) {
		return c.Strategies
	}
	return c.Strategies[:n]
}
