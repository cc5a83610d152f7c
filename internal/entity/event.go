package entity

import (
	"context"
	"time"
)

type Publisher interface {
	JetstreamEventInit(ctx context.Context) error
}

// OrderPlacedEvent is published after a successful placement for downstream
// consumers (audit, notifications). Delivery is best-effort.
type OrderPlacedEvent struct {
	OrderID      string      `json:"order_id"`
	TokenID      string      `json:"token_id"`
	Intent       OrderIntent `json:"intent"`
	EstimatedFee string      `json:"estimated_fee"`
	TotalCost    string      `json:"total_cost"`
	PlacedAt     time.Time   `json:"placed_at"`
}
