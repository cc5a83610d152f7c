package universe

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sebmertens/broker-gateway/internal/entity"
)

type memUniverse struct {
	entity.UniverseRepository

	members map[string]entity.UniverseMember
	upserts int
	deletes int
}

func newMemUniverse(members ...entity.UniverseMember) *memUniverse {
	m := &memUniverse{members: make(map[string]entity.UniverseMember)}
	for _, member := range members {
		m.members[member.Symbol] = member
	}
	return m
}

func (m *memUniverse) FindBySymbol(_ context.Context, symbol string) (*entity.UniverseMember, error) {
	member, ok := m.members[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: symbol %s", entity.ErrNotFound, symbol)
	}
	return &member, nil
}

func (m *memUniverse) Upsert(_ context.Context, member entity.UniverseMember) error {
	m.upserts++
	m.members[member.Symbol] = member
	return nil
}

func (m *memUniverse) Delete(_ context.Context, symbol string) error {
	m.deletes++
	delete(m.members, symbol)
	return nil
}

type fakeUpstream struct {
	entity.Upstream

	calls         int
	searchCatalog func(ctx context.Context, query string, limit int) ([]entity.Instrument, error)
}

func (f *fakeUpstream) SearchCatalog(ctx context.Context, query string, limit int) ([]entity.Instrument, error) {
	f.calls++
	return f.searchCatalog(ctx, query, limit)
}

func catalogHit(id, symbol string, tradable bool) entity.Instrument {
	return entity.Instrument{
		ID:       id,
		Symbol:   symbol,
		Name:     "name-" + id,
		Currency: "USD",
		Tradable: tradable,
	}
}

func TestSync_ResolvesTradableSymbolMatch(t *testing.T) {
	repo := newMemUniverse()
	upstream := &fakeUpstream{
		searchCatalog: func(_ context.Context, query string, _ int) ([]entity.Instrument, error) {
			// name hit first, then an untradable listing, then the real one
			return []entity.Instrument{
				catalogHit("p1", "AAPL.MIL", true),
				catalogHit("p2", "AAPL", false),
				catalogHit("p3", "AAPL", true),
			}, nil
		},
	}

	report, err := NewSyncer(repo, upstream, 10).Sync(context.Background(), []string{"aapl"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Synced != 1 || report.Skipped != 0 || len(report.Unresolved) != 0 {
		t.Errorf("unexpected report: %+v", report)
	}

	member, ok := repo.members["AAPL"]
	if !ok {
		t.Fatal("expected AAPL to be persisted")
	}
	if member.ProductID != "p3" {
		t.Errorf("expected the tradable exact-symbol hit, got %+v", member)
	}
}

func TestSync_SkipsMappedSymbolsUnlessRefresh(t *testing.T) {
	repo := newMemUniverse(entity.UniverseMember{Symbol: "MSFT", ProductID: "stale"})
	upstream := &fakeUpstream{
		searchCatalog: func(_ context.Context, _ string, _ int) ([]entity.Instrument, error) {
			return []entity.Instrument{catalogHit("fresh", "MSFT", true)}, nil
		},
	}
	syncer := NewSyncer(repo, upstream, 10)

	report, err := syncer.Sync(context.Background(), []string{"MSFT"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Skipped != 1 || report.Synced != 0 {
		t.Errorf("expected mapped symbol to be skipped, got %+v", report)
	}
	if upstream.calls != 0 {
		t.Errorf("skip must not touch the upstream, got %d calls", upstream.calls)
	}

	report, err = syncer.Sync(context.Background(), []string{"MSFT"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Synced != 1 {
		t.Errorf("expected refresh to re-resolve, got %+v", report)
	}
	if repo.members["MSFT"].ProductID != "fresh" {
		t.Errorf("expected refreshed mapping, got %+v", repo.members["MSFT"])
	}
}

func TestSync_UnresolvableSymbolReportedNotFatal(t *testing.T) {
	repo := newMemUniverse()
	upstream := &fakeUpstream{
		searchCatalog: func(_ context.Context, query string, _ int) ([]entity.Instrument, error) {
			if query == "GONE" {
				return nil, nil
			}
			return []entity.Instrument{catalogHit("p1", query, true)}, nil
		},
	}

	report, err := NewSyncer(repo, upstream, 10).Sync(context.Background(), []string{"AAPL", "GONE", "MSFT"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Synced != 2 {
		t.Errorf("expected the other symbols to sync, got %+v", report)
	}
	if len(report.Unresolved) != 1 || report.Unresolved[0] != "GONE" {
		t.Errorf("expected GONE reported unresolved, got %+v", report.Unresolved)
	}
	if _, ok := repo.members["GONE"]; ok {
		t.Error("unresolved symbol must not be persisted")
	}
}

func TestSync_TransientSearchRetriedOnce(t *testing.T) {
	repo := newMemUniverse()
	upstream := &fakeUpstream{}
	upstream.searchCatalog = func(_ context.Context, query string, _ int) ([]entity.Instrument, error) {
		if upstream.calls == 1 {
			return nil, entity.ErrUpstreamTimeout
		}
		return []entity.Instrument{catalogHit("p1", query, true)}, nil
	}

	report, err := NewSyncer(repo, upstream, 10).Sync(context.Background(), []string{"AAPL"}, false)
	if err != nil {
		t.Fatalf("expected retry to recover: %v", err)
	}
	if report.Synced != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if upstream.calls != 2 {
		t.Errorf("expected exactly one retry, got %d calls", upstream.calls)
	}
}

func TestSync_PermanentSearchFailureStopsRun(t *testing.T) {
	repo := newMemUniverse()
	upstream := &fakeUpstream{
		searchCatalog: func(_ context.Context, _ string, _ int) ([]entity.Instrument, error) {
			return nil, errors.New("bad request")
		},
	}

	_, err := NewSyncer(repo, upstream, 10).Sync(context.Background(), []string{"AAPL"}, false)
	if err == nil {
		t.Fatal("expected the failure to propagate")
	}
	if upstream.calls != 1 {
		t.Errorf("permanent failure must not be retried, got %d calls", upstream.calls)
	}
}

func TestRemove(t *testing.T) {
	repo := newMemUniverse(entity.UniverseMember{Symbol: "AAPL", ProductID: "p1"})
	syncer := NewSyncer(repo, &fakeUpstream{}, 10)

	if err := syncer.Remove(context.Background(), "aapl"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := repo.members["AAPL"]; ok {
		t.Error("expected AAPL removed")
	}
	if repo.deletes != 1 {
		t.Errorf("expected 1 delete, got %d", repo.deletes)
	}

	err := syncer.Remove(context.Background(), "WBD")
	if !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown symbol, got %v", err)
	}
}
