package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sebmertens/broker-gateway/internal/entity"
	"github.com/sebmertens/broker-gateway/internal/service/quote"
	"github.com/shopspring/decimal"
)

type fakeUniverse struct {
	entity.UniverseRepository

	members []entity.UniverseMember
	err     error
}

func (f *fakeUniverse) FindAll(_ context.Context) ([]entity.UniverseMember, error) {
	return f.members, f.err
}

type fakeUpstream struct {
	entity.Upstream

	detailErr map[string]error
	unpriced  map[string]bool

	mu         sync.Mutex
	quoteCalls int
}

func (f *fakeUpstream) ProductDetails(_ context.Context, ids []string) (map[string]entity.Instrument, error) {
	details := make(map[string]entity.Instrument, len(ids))
	for _, id := range ids {
		if err := f.detailErr[id]; err != nil {
			return nil, err
		}
		details[id] = entity.Instrument{
			ID:       id,
			Name:     "name-" + id,
			Currency: "USD",
			Tradable: true,
		}
	}
	return details, nil
}

func (f *fakeUpstream) GetQuotes(_ context.Context, ids []string) (map[string]entity.QuoteRow, error) {
	f.mu.Lock()
	f.quoteCalls++
	f.mu.Unlock()

	rows := make(map[string]entity.QuoteRow, len(ids))
	for _, id := range ids {
		if f.unpriced[id] {
			continue
		}
		bid := decimal.NewFromInt(10)
		ask := decimal.NewFromInt(11)
		last := decimal.NewFromInt(10)
		rows[id] = entity.QuoteRow{Bid: &bid, Ask: &ask, Last: &last}
	}
	return rows, nil
}

func universeOf(symbols ...string) []entity.UniverseMember {
	members := make([]entity.UniverseMember, 0, len(symbols))
	for _, symbol := range symbols {
		members = append(members, entity.UniverseMember{
			Symbol:    symbol,
			ProductID: "id-" + symbol,
		})
	}
	return members
}

func newOrchestrator(universe *fakeUniverse, upstream *fakeUpstream) *Orchestrator {
	return NewOrchestrator(universe, upstream, quote.NewAggregator(upstream, 20, 2), 2, 0)
}

func TestCapture_AlphabeticalOrder(t *testing.T) {
	universe := &fakeUniverse{members: universeOf("MSFT", "AAPL", "GOOG")}
	upstream := &fakeUpstream{}

	rows, succeeded, err := newOrchestrator(universe, upstream).Capture(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if succeeded != 3 {
		t.Errorf("expected 3 resolved symbols, got %d", succeeded)
	}

	want := []string{"AAPL", "GOOG", "MSFT"}
	for i, symbol := range want {
		if rows[i].Symbol != symbol {
			t.Errorf("row %d: expected %s, got %s", i, symbol, rows[i].Symbol)
		}
	}
}

func TestCapture_MetadataFailureExcludesSymbol(t *testing.T) {
	universe := &fakeUniverse{members: universeOf("AAPL", "WBD")}
	upstream := &fakeUpstream{
		detailErr: map[string]error{"id-WBD": errors.New("boom")},
	}

	rows, succeeded, err := newOrchestrator(universe, upstream).Capture(context.Background())
	if err != nil {
		t.Fatalf("a single symbol failure must not fail the snapshot: %v", err)
	}
	if succeeded != 1 {
		t.Errorf("expected 1 resolved symbol, got %d", succeeded)
	}
	if len(rows) != 1 || rows[0].Symbol != "AAPL" {
		t.Errorf("expected only AAPL, got %+v", rows)
	}
}

func TestCapture_UnpricedSymbolKeptAsPlaceholder(t *testing.T) {
	universe := &fakeUniverse{members: universeOf("AAPL", "HALT")}
	upstream := &fakeUpstream{unpriced: map[string]bool{"id-HALT": true}}

	rows, succeeded, err := newOrchestrator(universe, upstream).Capture(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if succeeded != 2 {
		t.Errorf("expected both symbols resolved, got %d", succeeded)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	priced, placeholder := rows[0], rows[1]
	if priced.Symbol != "AAPL" || !priced.Priced {
		t.Errorf("expected priced AAPL row, got %+v", priced)
	}
	if placeholder.Symbol != "HALT" || placeholder.Priced {
		t.Errorf("expected unpriced HALT placeholder, got %+v", placeholder)
	}
	if !placeholder.Bid.IsZero() || !placeholder.CapturedAt.IsZero() {
		t.Errorf("placeholder must carry no price data, got %+v", placeholder)
	}
}

func TestCapture_BatchesQuotesIndependentOfWorkerCount(t *testing.T) {
	universe := &fakeUniverse{members: universeOf("A", "B", "C", "D", "E")}
	upstream := &fakeUpstream{}

	// 5 product ids at chunk size 2 is exactly 3 quote calls, no matter
	// how many metadata workers fan out afterwards
	orchestrator := NewOrchestrator(universe, upstream, quote.NewAggregator(upstream, 2, 2), 8, 0)

	rows, succeeded, err := orchestrator.Capture(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if succeeded != 5 || len(rows) != 5 {
		t.Errorf("expected 5 resolved symbols, got %d rows, %d succeeded", len(rows), succeeded)
	}
	if upstream.quoteCalls != 3 {
		t.Errorf("expected 3 quote calls, got %d", upstream.quoteCalls)
	}
}

func TestCapture_EmptyUniverse(t *testing.T) {
	rows, succeeded, err := newOrchestrator(&fakeUniverse{}, &fakeUpstream{}).Capture(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if succeeded != 0 || len(rows) != 0 {
		t.Errorf("expected empty snapshot, got %d rows", len(rows))
	}
}

func TestCapture_UniverseErrorPropagates(t *testing.T) {
	wantErr := errors.New("db down")

	_, _, err := newOrchestrator(&fakeUniverse{err: wantErr}, &fakeUpstream{}).Capture(context.Background())
	if !errors.Is(err, wantErr) {
		t.Errorf("expected universe error, got %v", err)
	}
}
