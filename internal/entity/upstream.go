package entity

import (
	"context"
)

// LeveragedQuery carries the structured filter parameters forwarded to the
// upstream derivative catalog. Every recognized option is enumerated here;
// there is no open-ended parameter bag.
type LeveragedQuery struct {
	UnderlyingID string
	Direction    Direction
	Limit        int
}

// Upstream is the brokerage API surface this gateway mediates. All calls
// block on the network and honor ctx cancellation.
type Upstream interface {
	SearchCatalog(ctx context.Context, query string, limit int) ([]Instrument, error)
	SearchLeveraged(ctx context.Context, query LeveragedQuery) ([]LeveragedInstrument, error)
	ProductDetails(ctx context.Context, ids []string) (map[string]Instrument, error)
	GetQuotes(ctx context.Context, ids []string) (map[string]QuoteRow, error)
	CheckOrder(ctx context.Context, intent OrderIntent) (*OrderCheck, error)
	PlaceOrder(ctx context.Context, confirmationRef string, intent OrderIntent) (string, error)
}
