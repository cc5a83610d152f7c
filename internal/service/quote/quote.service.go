package quote

import (
	"context"
	"sync"
	"time"

	"github.com/sebmertens/broker-gateway/internal/entity"
	"github.com/sebmertens/broker-gateway/internal/metrics"
	"github.com/sirupsen/logrus"
)

const (
	defaultChunkSize = 20
	defaultWorkers   = 4
)

// Aggregator batches instrument ids into bounded-size upstream quote calls.
// Chunk failures are isolated: a failed chunk leaves only its own ids
// unpriced. Concurrency is capped by a fixed worker count, never by input
// size, to respect upstream rate limits.
type Aggregator struct {
	upstream  entity.Upstream
	chunkSize int
	workers   int
	now       func() time.Time
}

func NewAggregator(upstream entity.Upstream, chunkSize, workers int) *Aggregator {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if workers <= 0 {
		workers = defaultWorkers
	}

	return &Aggregator{
		upstream:  upstream,
		chunkSize: chunkSize,
		workers:   workers,
		now:       time.Now,
	}
}

// Prices resolves quotes for the given ids. partial is true whenever at
// least one requested id has no usable quote; the caller decides whether
// that is acceptable. Completed chunks survive ctx cancellation.
func (a *Aggregator) Prices(ctx context.Context, ids []string) (map[string]entity.Quote, bool, error) {
	unique := dedupe(ids)
	if len(unique) == 0 {
		return map[string]entity.Quote{}, false, nil
	}

	chunks := chunk(unique, a.chunkSize)

	var (
		mu      sync.Mutex
		quotes  = make(map[string]entity.Quote, len(unique))
		wg      sync.WaitGroup
		permits = make(chan struct{}, a.workers)
	)

	for _, part := range chunks {
		if ctx.Err() != nil {
			break
		}

		select {
		case permits <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(part []string) {
			defer wg.Done()
			defer func() { <-permits }()

			rows, err := a.upstream.GetQuotes(ctx, part)
			if err != nil {
				metrics.QuoteChunkFailures.Inc()
				logrus.WithField("chunk_size", len(part)).Warnf("quote chunk failed: %v", err)
				return
			}

			capturedAt := a.now().UTC()
			mu.Lock()
			for id, row := range rows {
				if !row.Usable() {
					continue
				}
				quotes[id] = entity.Quote{
					Bid:        *row.Bid,
					Ask:        *row.Ask,
					Last:       *row.Last,
					CapturedAt: capturedAt,
				}
			}
			mu.Unlock()
		}(part)
	}

	wg.Wait()

	partial := len(quotes) < len(unique)

	if err := ctx.Err(); err != nil {
		return quotes, partial, err
	}

	return quotes, partial, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	return unique
}

func chunk(ids []string, size int) [][]string {
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}

	return chunks
}
