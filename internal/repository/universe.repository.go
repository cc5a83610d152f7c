package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/sebmertens/broker-gateway/internal/entity"
)

const universeTable = "index_universe"

type UniverseRepository struct {
	db *sqlx.DB
}

func NewUniverseRepository(db *sqlx.DB) *UniverseRepository {
	return &UniverseRepository{db: db}
}

func (r *UniverseRepository) FindAll(ctx context.Context) ([]entity.UniverseMember, error) {
	var members []entity.UniverseMember
	err := r.db.SelectContext(ctx, &members, "SELECT symbol, product_id, name FROM index_universe ORDER BY symbol ASC")
	if err != nil {
		return nil, err
	}

	return members, nil
}

func (r *UniverseRepository) FindBySymbol(ctx context.Context, symbol string) (*entity.UniverseMember, error) {
	var member entity.UniverseMember
	err := r.db.GetContext(ctx, &member, "SELECT symbol, product_id, name FROM index_universe WHERE symbol = $1", symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: symbol %s", entity.ErrNotFound, symbol)
	}
	if err != nil {
		return nil, err
	}

	return &member, nil
}

func (r *UniverseRepository) Upsert(ctx context.Context, member entity.UniverseMember) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(universeTable).
		Columns("symbol", "product_id", "name").
		Values(member.Symbol, member.ProductID, member.Name).
		Suffix(`ON CONFLICT (symbol)
DO UPDATE SET
	product_id = EXCLUDED.product_id,
	name = EXCLUDED.name`)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *UniverseRepository) Delete(ctx context.Context, symbol string) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Delete(universeTable).
		Where(sq.Eq{"symbol": symbol})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}
