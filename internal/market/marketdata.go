package market

import "time"

type Feed int

const (
	FeedSpot Feed = iota
	FeedFutures
	FeedMark
	FeedInverse
	feedCount
)

var feedNames = [feedCount]string{"spot", "futures", "mark", "inverse"}

func Feeds() []Feed {
	return []Feed{FeedSpot, FeedFutures, FeedMark, FeedInverse}
}

func (f Feed) String() string {
	if f < 0 || f >= feedCount {
		return "unknown"
	}
	return feedNames[f]
}

type FundingInfo struct {
	Rate        float64
	NextFunding time.Time
}

// MarketState is a value snapshot. Arrays keep copies independent of the
// manager's live state.
type MarketState struct {
	SpotPrice        float64
	FuturesPrice     float64
	MarkPrice        float64
	ReferenceFunding FundingInfo
	InversePrice     float64
	InverseFunding   FundingInfo
	UpdatedAt        [feedCount]time.Time
	Connected        [feedCount]bool
	Manual           bool
}

func (s MarketState) IsConnected(feed Feed) bool {
	if feed < 0 || feed >= feedCount {
		return false
	}
	return s.Connected[feed]
}

func (s MarketState) LastUpdate(feed Feed) time.Time {
	if feed < 0 || feed >= feedCount {
		return time.Time{}
	}
	return s.UpdatedAt[feed]
}

// ReferencePrice is the reference venue price used for pricing legs: the
// futures trade price, falling back to mark, then spot.
func (s MarketState) ReferencePrice() float64 {
	switch {
	case s.FuturesPrice > 0:
		return s.FuturesPrice
	case s.MarkPrice > 0:
		return s.MarkPrice
	default:
		return s.SpotPrice
	}
}

// VenuePrice is the index price of the venue: spot, falling back to the
// reference price.
func (s MarketState) VenuePrice() float64 {
	if s.SpotPrice > 0 {
		return s.SpotPrice
	}
	return s.ReferencePrice()
}

func (s MarketState) HasPrices() bool {
	return s.VenuePrice() > 0
}
