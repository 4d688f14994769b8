package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the latest price picture for one symbol as returned by the
// quote provider. JSON tags keep the provider's short field names.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Current       float64   `json:"c"`
	PreviousClose float64   `json:"pc"`
	High          float64   `json:"h"`
	Low           float64   `json:"l"`
	FetchedAt     time.Time `json:"fetchedAt"`
}

// IsEmpty reports whether current, high and low are all exactly zero.
// Providers answer unknown tickers this way instead of with an error.
func (q *Quote) IsEmpty() bool {
	return q.Current == 0 && q.High == 0 && q.Low == 0
}

// QuoteFields is the denormalized quote data persisted alongside a
// watchlist record.
type QuoteFields struct {
	CurrentPrice  float64   `json:"currentPrice"`
	PreviousClose float64   `json:"previousClose"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	PriceChange   float64   `json:"priceChange"`
	PercentChange *float64  `json:"percentageChange,omitempty"`
	QuotedAt      time.Time `json:"timestamp"`
}

// Fields derives the persisted representation. PercentChange is nil when
// there is no previous close to compare against.
func (q *Quote) Fields() QuoteFields {
	cur := decimal.NewFromFloat(q.Current)
	prev := decimal.NewFromFloat(q.PreviousClose)
	change := cur.Sub(prev).Round(4)

	f := QuoteFields{
		CurrentPrice:  q.Current,
		PreviousClose: q.PreviousClose,
		High:          q.High,
		Low:           q.Low,
		QuotedAt:      q.FetchedAt,
	}
	f.PriceChange, _ = change.Float64()

	if !prev.IsZero() {
		pct, _ := change.Div(prev).Mul(decimal.NewFromInt(100)).Round(2).Float64()
		f.PercentChange = &pct
	}
	if f.QuotedAt.IsZero() {
		f.QuotedAt = time.Now().UTC()
	}
	return f
}

// MarketOverview summarizes a quote map for the dashboard header.
type MarketOverview struct {
	Symbols          int     `json:"symbols"`
	Gainers          int     `json:"gainers"`
	Losers           int     `json:"losers"`
	Unchanged        int     `json:"unchanged"`
	AvgPercentChange float64 `json:"avgPercentChange"`
}

func Overview(quotes map[string]Quote) MarketOverview {
	var ov MarketOverview
	sum := decimal.Zero
	counted := 0
	for _, q := range quotes {
		ov.Symbols++
		f := q.Fields()
		switch {
		case f.PriceChange > 0:
			ov.Gainers++
		case f.PriceChange < 0:
			ov.Losers++
		default:
			ov.Unchanged++
		}
		if f.PercentChange != nil {
			sum = sum.Add(decimal.NewFromFloat(*f.PercentChange))
			counted++
		}
	}
	if counted > 0 {
		ov.AvgPercentChange, _ = sum.Div(decimal.NewFromInt(int64(counted))).Round(2).Float64()
	}
	return ov
}
