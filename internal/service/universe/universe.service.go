package universe

import (
	"context"
	"errors"
	"strings"

	"github.com/sebmertens/broker-gateway/internal/entity"
	"github.com/sirupsen/logrus"
)

const defaultSearchLimit = 10

// Syncer maintains the index universe mapping by resolving display symbols
// through the upstream catalog and persisting symbol-to-product rows.
type Syncer struct {
	universe    entity.UniverseRepository
	upstream    entity.Upstream
	searchLimit int
}

func NewSyncer(universe entity.UniverseRepository, upstream entity.Upstream, searchLimit int) *Syncer {
	if searchLimit <= 0 {
		searchLimit = defaultSearchLimit
	}

	return &Syncer{
		universe:    universe,
		upstream:    upstream,
		searchLimit: searchLimit,
	}
}

// SyncReport summarizes one sync run. Unresolvable symbols are reported,
// never treated as a run failure.
type SyncReport struct {
	Synced     int
	Skipped    int
	Unresolved []string
}

// Sync resolves each symbol to a tradable catalog product and upserts the
// mapping. Already-mapped symbols are skipped unless refresh is set.
func (s *Syncer) Sync(ctx context.Context, symbols []string, refresh bool) (*SyncReport, error) {
	report := &SyncReport{}

	for _, raw := range symbols {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if !refresh {
			_, err := s.universe.FindBySymbol(ctx, symbol)
			if err == nil {
				report.Skipped++
				continue
			}
			if !errors.Is(err, entity.ErrNotFound) {
				return report, err
			}
		}

		product, err := s.resolveSymbol(ctx, symbol)
		if err != nil {
			return report, err
		}
		if product == nil {
			logrus.WithField("symbol", symbol).Warn("symbol does not resolve to a tradable product")
			report.Unresolved = append(report.Unresolved, symbol)
			continue
		}

		err = s.universe.Upsert(ctx, entity.UniverseMember{
			Symbol:    symbol,
			ProductID: product.ID,
			Name:      product.Name,
		})
		if err != nil {
			return report, err
		}
		report.Synced++
	}

	return report, nil
}

// Remove drops a symbol from the universe. Unknown symbols surface
// entity.ErrNotFound rather than silently succeeding.
func (s *Syncer) Remove(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	_, err := s.universe.FindBySymbol(ctx, symbol)
	if err != nil {
		return err
	}

	return s.universe.Delete(ctx, symbol)
}

// resolveSymbol retries exactly once on a transient upstream failure and
// picks the first tradable hit whose ticker matches the requested symbol.
// A nil result means the catalog has no usable product for the symbol.
func (s *Syncer) resolveSymbol(ctx context.Context, symbol string) (*entity.Instrument, error) {
	rows, err := s.upstream.SearchCatalog(ctx, symbol, s.searchLimit)
	if err != nil && entity.Transient(err) && ctx.Err() == nil {
		logrus.Warnf("universe sync retrying after transient failure: %v", err)
		rows, err = s.upstream.SearchCatalog(ctx, symbol, s.searchLimit)
	}
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		if row.Tradable && strings.EqualFold(row.Symbol, symbol) {
			return &row, nil
		}
	}

	return nil, nil
}
