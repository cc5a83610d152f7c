package snapshot

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sebmertens/broker-gateway/internal/entity"
	"github.com/sebmertens/broker-gateway/internal/metrics"
	"github.com/sebmertens/broker-gateway/internal/service/quote"
	"github.com/sirupsen/logrus"
)

const (
	defaultWorkers         = 4
	defaultMetadataTimeout = 10 * time.Second
)

// Orchestrator captures an index-wide snapshot: one batched price fetch for
// the whole universe, then a bounded fan-out for per-symbol metadata. A
// symbol whose metadata lookup fails drops out of the snapshot without
// affecting its siblings; a symbol with metadata but no usable quote stays
// in as an unpriced placeholder row.
type Orchestrator struct {
	universe        entity.UniverseRepository
	upstream        entity.Upstream
	quotes          *quote.Aggregator
	workers         int
	metadataTimeout time.Duration
	now             func() time.Time
}

func NewOrchestrator(universe entity.UniverseRepository, upstream entity.Upstream, quotes *quote.Aggregator, workers int, metadataTimeout time.Duration) *Orchestrator {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if metadataTimeout <= 0 {
		metadataTimeout = defaultMetadataTimeout
	}

	return &Orchestrator{
		universe:        universe,
		upstream:        upstream,
		quotes:          quotes,
		workers:         workers,
		metadataTimeout: metadataTimeout,
		now:             time.Now,
	}
}

// Capture returns the snapshot rows in symbol order plus the count of
// symbols whose metadata resolved. The error is non-nil only when the
// universe cannot be read or pricing fails wholesale.
func (o *Orchestrator) Capture(ctx context.Context) ([]entity.SymbolSnapshot, int, error) {
	started := o.now()
	defer func() {
		metrics.SnapshotDuration.Observe(time.Since(started).Seconds())
	}()

	members, err := o.universe.FindAll(ctx)
	if err != nil {
		return nil, 0, err
	}
	if len(members) == 0 {
		return []entity.SymbolSnapshot{}, 0, nil
	}

	ids := make([]string, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.ProductID)
	}

	prices, partial, err := o.quotes.Prices(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	if partial {
		logrus.Warnf("snapshot priced %d of %d symbols", len(prices), len(members))
	}

	rows := o.resolveMetadata(ctx, members, prices)

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Symbol < rows[j].Symbol
	})

	return rows, len(rows), nil
}

func (o *Orchestrator) resolveMetadata(ctx context.Context, members []entity.UniverseMember, prices map[string]entity.Quote) []entity.SymbolSnapshot {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		rows = make([]entity.SymbolSnapshot, 0, len(members))
		sem  = make(chan struct{}, o.workers)
	)

	for _, member := range members {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(member entity.UniverseMember) {
			defer wg.Done()
			defer func() { <-sem }()

			row, ok := o.resolveMember(ctx, member, prices)
			if !ok {
				return
			}

			mu.Lock()
			rows = append(rows, row)
			mu.Unlock()
		}(member)
	}

	wg.Wait()

	return rows
}

func (o *Orchestrator) resolveMember(ctx context.Context, member entity.UniverseMember, prices map[string]entity.Quote) (entity.SymbolSnapshot, bool) {
	ctx, cancel := context.WithTimeout(ctx, o.metadataTimeout)
	defer cancel()

	details, err := o.upstream.ProductDetails(ctx, []string{member.ProductID})
	if err != nil {
		logrus.Warnf("snapshot metadata failed for %s: %v", member.Symbol, err)
		return entity.SymbolSnapshot{}, false
	}

	instrument, ok := details[member.ProductID]
	if !ok {
		logrus.Warnf("snapshot metadata missing for %s", member.Symbol)
		return entity.SymbolSnapshot{}, false
	}

	row := entity.SymbolSnapshot{
		Symbol:    member.Symbol,
		ProductID: member.ProductID,
		Name:      instrument.Name,
		Currency:  instrument.Currency,
	}
	if row.Name == "" {
		row.Name = member.Name
	}

	if q, priced := prices[member.ProductID]; priced {
		row.Priced = true
		row.Bid = q.Bid
		row.Ask = q.Ask
		row.Last = q.Last
		row.CapturedAt = q.CapturedAt
	}

	return row, true
}
