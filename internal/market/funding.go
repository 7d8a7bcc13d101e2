package market

import (
	"fmt"
	"time"
)

// FormatTimeToFunding renders the countdown to a funding timestamp.
func FormatTimeToFunding(next, now time.Time) string {
	if next.IsZero() {
		return "N/A"
	}
	remaining := next.Sub(now)
	if remaining <= 0 {
		return "Now"
	}
	hours := int(remaining / time.Hour)
	minutes := int((remaining % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

type FundingCountdown struct {
	Reference string `json:"reference"`
	Inverse   string `json:"inverse"`
}

func (s MarketState) TimeToFunding(now time.Time) FundingCountdown {
	return FundingCountdown{
		Reference: FormatTimeToFunding(s.ReferenceFunding.NextFunding, now),
		Inverse:   FormatTimeToFunding(s.InverseFunding.NextFunding, now),
	}
}
