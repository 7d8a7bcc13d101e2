package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// errNotData marks control frames (subscribe acks, pongs) that carry no
// market data. They are skipped without counting as dropped.
var errNotData = errors.New("not a data message")

type update struct {
	Price       float64
	HasPrice    bool
	Rate        float64
	HasRate     bool
	NextFunding time.Time
	HasNext     bool
}

func (u update) empty() bool {
	return !u.HasPrice && !u.HasRate && !u.HasNext
}

type parser func(data []byte) (update, error)

func parserFor(feed Feed) parser {
	switch feed {
	case FeedMark:
		return parseMarkPrice
	case FeedInverse:
		return parseInverseTicker
	default:
		return parseTrade
	}
}

func decodeObject(data []byte) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if payload == nil {
		return nil, errors.New("decode message: empty payload")
	}
	return payload, nil
}

// unwrapCombined strips the {"stream": ..., "data": {...}} envelope used by
// combined stream endpoints.
func unwrapCombined(payload map[string]any) map[string]any {
	if _, ok := payload["stream"]; !ok {
		return payload
	}
	if data, ok := toMap(payload["data"]); ok {
		return data
	}
	return payload
}

func positivePrice(m map[string]any, keys ...string) (float64, bool) {
	price, ok := lookupFloat(m, keys...)
	if !ok || price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, false
	}
	return price, true
}

func parseTrade(data []byte) (update, error) {
	payload, err := decodeObject(data)
	if err != nil {
		return update{}, err
	}
	payload = unwrapCombined(payload)
	price, ok := positivePrice(payload, "p", "price")
	if !ok {
		return update{}, errors.New("trade message missing price")
	}
	return update{Price: price, HasPrice: true}, nil
}

func parseMarkPrice(data []byte) (update, error) {
	payload, err := decodeObject(data)
	if err != nil {
		return update{}, err
	}
	payload = unwrapCombined(payload)
	var out update
	if price, ok := positivePrice(payload, "p", "markPrice"); ok {
		out.Price = price
		out.HasPrice = true
	}
	if rate, ok := lookupFloat(payload, "r", "fundingRate"); ok && !math.IsNaN(rate) {
		out.Rate = rate
		out.HasRate = true
	}
	if ts, ok := timeFromMap(payload, "T", "nextFundingTime"); ok {
		out.NextFunding = ts
		out.HasNext = true
	}
	if out.empty() {
		return update{}, errors.New("mark price message missing fields")
	}
	return out, nil
}

// parseInverseTicker handles ticker snapshots and deltas. Deltas may carry
// any subset of the fields.
func parseInverseTicker(data []byte) (update, error) {
	payload, err := decodeObject(data)
	if err != nil {
		return update{}, err
	}
	if isControlFrame(payload) {
		return update{}, errNotData
	}
	ticker, ok := toMap(payload["data"])
	if !ok {
		return update{}, errors.New("ticker message missing data")
	}
	var out update
	if price, ok := positivePrice(ticker, "lastPrice", "markPrice"); ok {
		out.Price = price
		out.HasPrice = true
	}
	if rate, ok := lookupFloat(ticker, "fundingRate"); ok && !math.IsNaN(rate) {
		out.Rate = rate
		out.HasRate = true
	}
	if ts, ok := timeFromMap(ticker, "nextFundingTime"); ok {
		out.NextFunding = ts
		out.HasNext = true
	}
	if out.empty() {
		return update{}, errNotData
	}
	return out, nil
}

func isControlFrame(payload map[string]any) bool {
	if _, ok := payload["op"]; ok {
		return true
	}
	if _, ok := payload["success"]; ok {
		return true
	}
	return stringFromMap(payload, "ret_msg") == "pong"
}
