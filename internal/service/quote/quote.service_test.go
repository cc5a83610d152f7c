package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sebmertens/broker-gateway/internal/entity"
	"github.com/shopspring/decimal"
)

type fakeUpstream struct {
	entity.Upstream

	mu        sync.Mutex
	calls     int
	getQuotes func(ctx context.Context, ids []string) (map[string]entity.QuoteRow, error)
}

func (f *fakeUpstream) GetQuotes(ctx context.Context, ids []string) (map[string]entity.QuoteRow, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.getQuotes(ctx, ids)
}

func (f *fakeUpstream) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func leg(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func fullRow(v float64) entity.QuoteRow {
	return entity.QuoteRow{Bid: leg(v), Ask: leg(v + 0.1), Last: leg(v + 0.05)}
}

func TestAggregator_ChunksRequests(t *testing.T) {
	upstream := &fakeUpstream{
		getQuotes: func(_ context.Context, ids []string) (map[string]entity.QuoteRow, error) {
			if len(ids) > 10 {
				t.Errorf("chunk size exceeded: got %d ids", len(ids))
			}
			rows := make(map[string]entity.QuoteRow, len(ids))
			for _, id := range ids {
				rows[id] = fullRow(100)
			}
			return rows, nil
		},
	}

	agg := NewAggregator(upstream, 10, 2)

	ids := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		ids = append(ids, fmt.Sprintf("p%02d", i))
	}

	quotes, partial, err := agg.Prices(context.Background(), ids)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if partial {
		t.Error("expected complete result")
	}
	if len(quotes) != 25 {
		t.Errorf("expected 25 quotes, got %d", len(quotes))
	}
	// 25 ids at chunk size 10 must be exactly 3 upstream calls
	if got := upstream.callCount(); got != 3 {
		t.Errorf("expected 3 upstream calls, got %d", got)
	}
}

func TestAggregator_ChunkFailureIsIsolated(t *testing.T) {
	upstream := &fakeUpstream{
		getQuotes: func(_ context.Context, ids []string) (map[string]entity.QuoteRow, error) {
			for _, id := range ids {
				if id == "p3" {
					return nil, errors.New("boom")
				}
			}
			rows := make(map[string]entity.QuoteRow, len(ids))
			for _, id := range ids {
				rows[id] = fullRow(50)
			}
			return rows, nil
		},
	}

	agg := NewAggregator(upstream, 2, 1)

	quotes, partial, err := agg.Prices(context.Background(), []string{"p1", "p2", "p3", "p4", "p5", "p6"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !partial {
		t.Error("expected partial result after a failed chunk")
	}
	// only the chunk containing p3 (p3, p4) is lost
	if len(quotes) != 4 {
		t.Errorf("expected 4 quotes, got %d", len(quotes))
	}
	if _, ok := quotes["p3"]; ok {
		t.Error("failed chunk member should not be priced")
	}
	if _, ok := quotes["p4"]; ok {
		t.Error("failed chunk member should not be priced")
	}
	if _, ok := quotes["p1"]; !ok {
		t.Error("sibling chunk should survive")
	}
}

func TestAggregator_CancellationKeepsCompletedChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	upstream := &fakeUpstream{}
	upstream.getQuotes = func(_ context.Context, ids []string) (map[string]entity.QuoteRow, error) {
		rows := make(map[string]entity.QuoteRow, len(ids))
		for _, id := range ids {
			rows[id] = fullRow(20)
		}
		// cancel before the chunk result is merged and the permit released
		cancel()
		return rows, nil
	}

	agg := NewAggregator(upstream, 1, 1)

	quotes, partial, err := agg.Prices(ctx, []string{"a", "b", "c"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !partial {
		t.Error("expected partial result after cancellation")
	}
	if _, ok := quotes["a"]; !ok {
		t.Error("completed chunk must survive cancellation")
	}
	if len(quotes) != 1 {
		t.Errorf("expected only the completed chunk, got %d quotes", len(quotes))
	}
	if got := upstream.callCount(); got != 1 {
		t.Errorf("expected no further upstream calls after cancellation, got %d", got)
	}
}

func TestAggregator_DropsUnusableRows(t *testing.T) {
	upstream := &fakeUpstream{
		getQuotes: func(_ context.Context, ids []string) (map[string]entity.QuoteRow, error) {
			return map[string]entity.QuoteRow{
				"good":     fullRow(10),
				"no-ask":   {Bid: leg(10), Last: leg(10)},
				"negative": {Bid: leg(-1), Ask: leg(1), Last: leg(1)},
			}, nil
		},
	}

	agg := NewAggregator(upstream, 20, 2)

	quotes, partial, err := agg.Prices(context.Background(), []string{"good", "no-ask", "negative"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !partial {
		t.Error("expected partial result when rows are unusable")
	}
	if len(quotes) != 1 {
		t.Fatalf("expected 1 quote, got %d", len(quotes))
	}
	if _, ok := quotes["good"]; !ok {
		t.Error("usable row missing")
	}
}

func TestAggregator_DedupesIDs(t *testing.T) {
	upstream := &fakeUpstream{
		getQuotes: func(_ context.Context, ids []string) (map[string]entity.QuoteRow, error) {
			if len(ids) != 2 {
				t.Errorf("expected deduped ids, got %v", ids)
			}
			rows := make(map[string]entity.QuoteRow, len(ids))
			for _, id := range ids {
				rows[id] = fullRow(5)
			}
			return rows, nil
		},
	}

	agg := NewAggregator(upstream, 20, 2)

	quotes, partial, err := agg.Prices(context.Background(), []string{"a", "b", "a", "", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if partial {
		t.Error("expected complete result")
	}
	if len(quotes) != 2 {
		t.Errorf("expected 2 quotes, got %d", len(quotes))
	}
	if got := upstream.callCount(); got != 1 {
		t.Errorf("expected 1 upstream call, got %d", got)
	}
}
