package degiro

import (
	"strings"
	"time"

	"github.com/sebmertens/broker-gateway/internal/entity"
)

// Raw wire payloads for the DEGIRO trader API. Field names follow the
// upstream JSON; mapping to entity types happens in this package only.

type productRow struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	ISIN         string  `json:"isin"`
	Symbol       string  `json:"symbol"`
	Currency     string  `json:"currency"`
	ExchangeID   string  `json:"exchangeId"`
	Tradable     bool    `json:"tradable"`
	Leverage     float64 `json:"leverage"`
	ShortLong    string  `json:"shortlong"` // "L" or "S"
	IssuerName   string  `json:"issuerName"`
	SubtypeID    int     `json:"shortProductTypeId"`
	Underlying   string  `json:"underlyingProductId"`
	ExpirationAt string  `json:"expirationDate"`
}

type searchEnvelope struct {
	Offset   int          `json:"offset"`
	Products []productRow `json:"products"`
	Total    int          `json:"total"`
}

type checkOrderEnvelope struct {
	Data struct {
		ConfirmationID string  `json:"confirmationId"`
		TransactionFee float64 `json:"transactionFee"`
		TotalCost      float64 `json:"totalOrderCost"`
		FreeSpaceNew   float64 `json:"freeSpaceNew"`
	} `json:"data"`
}

type confirmOrderEnvelope struct {
	Data struct {
		OrderID string `json:"orderId"`
	} `json:"data"`
}

type quoteSessionEnvelope struct {
	SessionID string `json:"sessionId"`
}

type quoteEntry struct {
	ProductID string   `json:"productId"`
	Bid       *float64 `json:"bid"`
	Ask       *float64 `json:"ask"`
	Last      *float64 `json:"last"`
}

// Upstream subtype ids for leveraged products. The structured id is the only
// sanctioned source for subtype classification; product display names are
// never parsed.
const (
	subtypeIDOptionLike      = 1
	subtypeIDKnockout        = 2
	subtypeIDUnlimitedFactor = 3
)

func subtypeFromID(id int) entity.Subtype {
	switch id {
	case subtypeIDOptionLike:
		return entity.SubtypeOptionLike
	case subtypeIDKnockout:
		return entity.SubtypeKnockout
	case subtypeIDUnlimitedFactor:
		return entity.SubtypeUnlimitedFactor
	default:
		return entity.SubtypeAll
	}
}

func directionFromShortLong(raw string) (entity.Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "L":
		return entity.DirectionLong, true
	case "S":
		return entity.DirectionShort, true
	default:
		return "", false
	}
}

func shortLongFromDirection(direction entity.Direction) string {
	if direction == entity.DirectionShort {
		return "S"
	}
	return "L"
}

func (p productRow) toInstrument() entity.Instrument {
	return entity.Instrument{
		ID:         strings.TrimSpace(p.ID),
		Name:       strings.TrimSpace(p.Name),
		ISIN:       strings.ToUpper(strings.TrimSpace(p.ISIN)),
		Symbol:     strings.ToUpper(strings.TrimSpace(p.Symbol)),
		Currency:   p.Currency,
		ExchangeID: p.ExchangeID,
		Tradable:   p.Tradable,
	}
}

func (p productRow) toLeveraged() (entity.LeveragedInstrument, bool) {
	direction, ok := directionFromShortLong(p.ShortLong)
	if !ok {
		return entity.LeveragedInstrument{}, false
	}

	expiration := time.Time{}
	if raw := strings.TrimSpace(p.ExpirationAt); raw != "" {
		if parsed, err := time.Parse("2006-01-02", raw); err == nil {
			expiration = parsed
		}
	}

	return entity.LeveragedInstrument{
		Instrument:   p.toInstrument(),
		UnderlyingID: strings.TrimSpace(p.Underlying),
		Leverage:     p.Leverage,
		Direction:    direction,
		Issuer:       strings.TrimSpace(p.IssuerName),
		Subtype:      subtypeFromID(p.SubtypeID),
		Expiration:   expiration,
	}, true
}
