package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string
type OrderKind string
type TimeInForce string
type TokenState string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"

	OrderKindMarket    OrderKind = "MARKET"
	OrderKindLimit     OrderKind = "LIMIT"
	OrderKindStopLoss  OrderKind = "STOP_LOSS"
	OrderKindStopLimit OrderKind = "STOP_LIMIT"

	TimeInForceDay TimeInForce = "DAY"
	TimeInForceGTC TimeInForce = "GOOD_TILL_CANCELED"

	TokenStateChecked  TokenState = "CHECKED"
	TokenStateConsumed TokenState = "CONSUMED"
	TokenStateExpired  TokenState = "EXPIRED"
)

type OrderIntent struct {
	ProductID   string           `json:"product_id"`
	Side        OrderSide        `json:"side"`
	Kind        OrderKind        `json:"kind"`
	Quantity    int64            `json:"quantity"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	StopPrice   *decimal.Decimal `json:"stop_price,omitempty"`
	TimeInForce TimeInForce      `json:"time_in_force"`
}

// ConfirmationToken freezes a checked intent plus the upstream's cost
// estimate. It authorizes exactly one placement before its expiry.
type ConfirmationToken struct {
	ID           string          `json:"id"`
	UpstreamRef  string          `json:"upstream_ref"`
	Intent       OrderIntent     `json:"intent"`
	EstimatedFee decimal.Decimal `json:"estimated_fee"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	FreeSpace    decimal.Decimal `json:"free_space"`
	State        TokenState      `json:"state"`
	IssuedAt     time.Time       `json:"issued_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

func (t ConfirmationToken) ExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

type PlacedOrder struct {
	OrderID      string          `json:"order_id"`
	TokenID      string          `json:"token_id"`
	Intent       OrderIntent     `json:"intent"`
	EstimatedFee decimal.Decimal `json:"estimated_fee"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	PlacedAt     time.Time       `json:"placed_at"`
}

// OrderCheck is the upstream validation result a token is derived from.
type OrderCheck struct {
	ConfirmationRef string
	Fee             decimal.Decimal
	TotalCost       decimal.Decimal
	FreeSpace       decimal.Decimal
}
