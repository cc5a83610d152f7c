package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string
type Subtype string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"

	SubtypeAll             Subtype = "ALL"
	SubtypeOptionLike      Subtype = "OPTION_LIKE"
	SubtypeKnockout        Subtype = "KNOCKOUT"
	SubtypeUnlimitedFactor Subtype = "UNLIMITED_FACTOR"

	IssuerAny = "ANY"
)

// Instrument is a tradable product as reported by the upstream catalog.
// Instances are immutable once fetched; refreshing means fetching again.
type Instrument struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ISIN       string `json:"isin"`
	Symbol     string `json:"symbol,omitempty"`
	Currency   string `json:"currency"`
	ExchangeID string `json:"exchange_id"`
	Tradable   bool   `json:"tradable"`
}

type LeveragedInstrument struct {
	Instrument
	UnderlyingID string    `json:"underlying_id"`
	Leverage     float64   `json:"leverage"`
	Direction    Direction `json:"direction"`
	Issuer       string    `json:"issuer"`
	Subtype      Subtype   `json:"subtype"`
	// Expiration is zero for open-ended products.
	Expiration time.Time `json:"expiration,omitempty"`
}

// Quote is a validated point-in-time price. All three legs are always
// populated; partially quoted products never become a Quote.
type Quote struct {
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Last       decimal.Decimal `json:"last"`
	CapturedAt time.Time       `json:"captured_at"`
}

// QuoteRow is the raw upstream quote payload. Any leg may be missing.
type QuoteRow struct {
	Bid  *decimal.Decimal
	Ask  *decimal.Decimal
	Last *decimal.Decimal
}

// Usable reports whether the row can be promoted to a Quote: every leg
// present and non-negative.
func (r QuoteRow) Usable() bool {
	for _, leg := range []*decimal.Decimal{r.Bid, r.Ask, r.Last} {
		if leg == nil || leg.IsNegative() {
			return false
		}
	}
	return true
}

// PricedInstrument pairs a catalog hit with a live quote. Search and filter
// results always carry one; unpriceable instruments are dropped upstream of
// the caller.
type PricedInstrument struct {
	Instrument
	Quote Quote `json:"quote"`
}

type PricedLeveraged struct {
	LeveragedInstrument
	Quote Quote `json:"quote"`
}

// SymbolSnapshot is one row of an index-wide snapshot. Priced is false when
// the quote feed had no usable data for the symbol at capture time.
type SymbolSnapshot struct {
	Symbol     string          `json:"symbol"`
	ProductID  string          `json:"product_id"`
	Name       string          `json:"name"`
	Currency   string          `json:"currency"`
	Priced     bool            `json:"priced"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Last       decimal.Decimal `json:"last"`
	CapturedAt time.Time       `json:"captured_at"`
}
