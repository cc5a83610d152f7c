package entity

import "context"

// UniverseMember maps a display symbol to its upstream product. The universe
// table is the authoritative list of symbols a snapshot covers.
type UniverseMember struct {
	Symbol    string `json:"symbol" db:"symbol"`
	ProductID string `json:"product_id" db:"product_id"`
	Name      string `json:"name" db:"name"`
}

type UniverseRepository interface {
	FindAll(ctx context.Context) ([]UniverseMember, error)
	FindBySymbol(ctx context.Context, symbol string) (*UniverseMember, error)
	Upsert(ctx context.Context, member UniverseMember) error
	Delete(ctx context.Context, symbol string) error
}
