package leveraged

import (
	"context"
	"errors"
	"testing"

	"github.com/sebmertens/broker-gateway/internal/entity"
	"github.com/sebmertens/broker-gateway/internal/service/quote"
	"github.com/shopspring/decimal"
)

type fakeUpstream struct {
	entity.Upstream

	products map[string]entity.Instrument
	rows     []entity.LeveragedInstrument
	searched *entity.LeveragedQuery
}

func (f *fakeUpstream) ProductDetails(_ context.Context, ids []string) (map[string]entity.Instrument, error) {
	details := make(map[string]entity.Instrument, len(ids))
	for _, id := range ids {
		if product, ok := f.products[id]; ok {
			details[id] = product
		}
	}
	return details, nil
}

func (f *fakeUpstream) SearchLeveraged(_ context.Context, query entity.LeveragedQuery) ([]entity.LeveragedInstrument, error) {
	f.searched = &query
	return f.rows, nil
}

func (f *fakeUpstream) GetQuotes(_ context.Context, ids []string) (map[string]entity.QuoteRow, error) {
	rows := make(map[string]entity.QuoteRow, len(ids))
	for _, id := range ids {
		bid := decimal.NewFromInt(4)
		ask := decimal.NewFromInt(5)
		last := decimal.NewFromInt(4)
		rows[id] = entity.QuoteRow{Bid: &bid, Ask: &ask, Last: &last}
	}
	return rows, nil
}

func product(id string, leverage float64, direction entity.Direction) entity.LeveragedInstrument {
	return entity.LeveragedInstrument{
		Instrument:   entity.Instrument{ID: id, Tradable: true},
		UnderlyingID: "u1",
		Leverage:     leverage,
		Direction:    direction,
		Issuer:       "BNP",
		Subtype:      entity.SubtypeKnockout,
	}
}

func newFinder(upstream *fakeUpstream) *Finder {
	return NewFinder(upstream, quote.NewAggregator(upstream, 20, 2), 100)
}

func TestFinder_LeverageRangeAndOrdering(t *testing.T) {
	upstream := &fakeUpstream{
		products: map[string]entity.Instrument{"u1": {ID: "u1", Tradable: true}},
		rows: []entity.LeveragedInstrument{
			product("a", 11.0, entity.DirectionLong),
			product("b", 6.1, entity.DirectionLong),
			product("c", 3.2, entity.DirectionLong),
			product("d", 5.7, entity.DirectionLong),
		},
	}

	results, err := newFinder(upstream).Find(context.Background(), FilterRequest{
		UnderlyingID: "u1",
		Direction:    entity.DirectionLong,
		MinLeverage:  5,
		MaxLeverage:  10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "d" || results[1].ID != "b" {
		t.Errorf("expected leverage-ascending order [d b], got [%s %s]", results[0].ID, results[1].ID)
	}
}

func TestFinder_EqualLeverageTieBreaksByID(t *testing.T) {
	upstream := &fakeUpstream{
		products: map[string]entity.Instrument{"u1": {ID: "u1", Tradable: true}},
		rows: []entity.LeveragedInstrument{
			product("z9", 5.0, entity.DirectionLong),
			product("a1", 5.0, entity.DirectionLong),
		},
	}

	results, err := newFinder(upstream).Find(context.Background(), FilterRequest{
		UnderlyingID: "u1",
		Direction:    entity.DirectionLong,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 || results[0].ID != "a1" {
		t.Errorf("expected id tie-break [a1 z9], got %+v", results)
	}
}

func TestFinder_StructuredFieldsOnly(t *testing.T) {
	misleading := product("m", 7.0, entity.DirectionShort)
	misleading.Name = "TURBO LONG 5X AEX" // display name must not matter

	nonTradable := product("n", 7.0, entity.DirectionLong)
	nonTradable.Tradable = false

	otherUnderlying := product("o", 7.0, entity.DirectionLong)
	otherUnderlying.UnderlyingID = "u2"

	otherIssuer := product("i", 7.0, entity.DirectionLong)
	otherIssuer.Issuer = "SG"

	upstream := &fakeUpstream{
		products: map[string]entity.Instrument{"u1": {ID: "u1", Tradable: true}},
		rows: []entity.LeveragedInstrument{
			misleading,
			nonTradable,
			otherUnderlying,
			otherIssuer,
			product("keep", 7.0, entity.DirectionLong),
		},
	}

	results, err := newFinder(upstream).Find(context.Background(), FilterRequest{
		UnderlyingID: "u1",
		Direction:    entity.DirectionLong,
		Issuer:       "bnp", // issuer compare is case-insensitive
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ID != "keep" {
		t.Errorf("expected only the structurally matching product, got %+v", results)
	}
}

func TestFinder_SubtypeFilter(t *testing.T) {
	knockout := product("k", 6.0, entity.DirectionLong)
	openEnded := product("u", 6.0, entity.DirectionLong)
	openEnded.Subtype = entity.SubtypeUnlimitedFactor

	upstream := &fakeUpstream{
		products: map[string]entity.Instrument{"u1": {ID: "u1", Tradable: true}},
		rows:     []entity.LeveragedInstrument{knockout, openEnded},
	}

	results, err := newFinder(upstream).Find(context.Background(), FilterRequest{
		UnderlyingID: "u1",
		Direction:    entity.DirectionLong,
		Subtype:      entity.SubtypeUnlimitedFactor,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ID != "u" {
		t.Errorf("expected the unlimited factor product only, got %+v", results)
	}
}

func TestFinder_UnknownUnderlying(t *testing.T) {
	upstream := &fakeUpstream{products: map[string]entity.Instrument{}}

	_, err := newFinder(upstream).Find(context.Background(), FilterRequest{
		UnderlyingID: "missing",
		Direction:    entity.DirectionLong,
	})
	if !errors.Is(err, entity.ErrNoUnderlying) {
		t.Errorf("expected ErrNoUnderlying, got %v", err)
	}
	if upstream.searched != nil {
		t.Error("derivative search must not run without a resolved underlying")
	}
}

func TestFinder_NoMatchesIsNotAnError(t *testing.T) {
	upstream := &fakeUpstream{
		products: map[string]entity.Instrument{"u1": {ID: "u1", Tradable: true}},
		rows:     []entity.LeveragedInstrument{product("a", 50.0, entity.DirectionLong)},
	}

	results, err := newFinder(upstream).Find(context.Background(), FilterRequest{
		UnderlyingID: "u1",
		Direction:    entity.DirectionLong,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("expected empty result slice, got %+v", results)
	}
}

func TestFinder_TruncatesAfterSorting(t *testing.T) {
	upstream := &fakeUpstream{
		products: map[string]entity.Instrument{"u1": {ID: "u1", Tradable: true}},
		rows: []entity.LeveragedInstrument{
			product("high", 9.0, entity.DirectionLong),
			product("low", 3.0, entity.DirectionLong),
		},
	}

	results, err := newFinder(upstream).Find(context.Background(), FilterRequest{
		UnderlyingID: "u1",
		Direction:    entity.DirectionLong,
		Limit:        1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// the lowest leverage survives truncation, not the upstream's first row
	if len(results) != 1 || results[0].ID != "low" {
		t.Errorf("expected [low], got %+v", results)
	}
}
