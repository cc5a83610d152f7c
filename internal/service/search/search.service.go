package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sebmertens/broker-gateway/internal/entity"
	"github.com/sebmertens/broker-gateway/internal/service/quote"
	"github.com/sirupsen/logrus"
)

const (
	StrategyISINExact     = "isin_exact"
	StrategySymbolExact   = "symbol_exact"
	StrategyNameSubstring = "name_substring"
	StrategyUnion         = "union"

	defaultSearchLimit = 50
)

var isinShape = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)

// Resolver turns a free-form query into priced, tradable instruments. A
// query shaped like an ISIN is matched by exact ISIN first, then by exact
// symbol, then by name substring; the first strategy with a tradable hit
// wins unless the caller asks for the union of all strategies.
type Resolver struct {
	upstream    entity.Upstream
	quotes      *quote.Aggregator
	searchLimit int
}

type Resolution struct {
	Matches  []entity.PricedInstrument
	Strategy string
}

func NewResolver(upstream entity.Upstream, quotes *quote.Aggregator, searchLimit int) *Resolver {
	if searchLimit <= 0 {
		searchLimit = defaultSearchLimit
	}

	return &Resolver{
		upstream:    upstream,
		quotes:      quotes,
		searchLimit: searchLimit,
	}
}

func (r *Resolver) Resolve(ctx context.Context, query string, union bool) (*Resolution, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", entity.ErrNotFound)
	}

	rows, err := r.searchCatalog(ctx, query)
	if err != nil {
		return nil, err
	}

	strategies := []string{StrategySymbolExact, StrategyNameSubstring}
	if IsISIN(query) {
		strategies = append([]string{StrategyISINExact}, strategies...)
	}

	var (
		candidates []entity.Instrument
		strategy   string
	)

	if union {
		strategy = StrategyUnion
		for _, name := range strategies {
			candidates = append(candidates, applyStrategy(name, query, rows)...)
		}
		candidates = dedupeByID(candidates)
	} else {
		for _, name := range strategies {
			hits := applyStrategy(name, query, rows)
			if len(hits) > 0 {
				candidates = dedupeByID(hits)
				strategy = name
				break
			}
		}
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %q", entity.ErrNotFound, query)
	}

	matches, err := r.attachQuotes(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %q matched but nothing is priceable", entity.ErrNotFound, query)
	}

	return &Resolution{Matches: matches, Strategy: strategy}, nil
}

// searchCatalog retries exactly once on a transient upstream failure;
// structural failures propagate immediately.
func (r *Resolver) searchCatalog(ctx context.Context, query string) ([]entity.Instrument, error) {
	rows, err := r.upstream.SearchCatalog(ctx, query, r.searchLimit)
	if err != nil && entity.Transient(err) && ctx.Err() == nil {
		logrus.Warnf("catalog search retrying after transient failure: %v", err)
		rows, err = r.upstream.SearchCatalog(ctx, query, r.searchLimit)
	}
	if err != nil {
		return nil, err
	}

	return rows, nil
}

func (r *Resolver) attachQuotes(ctx context.Context, candidates []entity.Instrument) ([]entity.PricedInstrument, error) {
	ids := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		ids = append(ids, candidate.ID)
	}

	quotes, _, err := r.quotes.Prices(ctx, ids)
	if err != nil {
		return nil, err
	}

	matches := make([]entity.PricedInstrument, 0, len(candidates))
	for _, candidate := range candidates {
		q, ok := quotes[candidate.ID]
		if !ok {
			continue
		}
		matches = append(matches, entity.PricedInstrument{Instrument: candidate, Quote: q})
	}

	return matches, nil
}

func applyStrategy(name, query string, rows []entity.Instrument) []entity.Instrument {
	var predicate func(entity.Instrument) bool

	switch name {
	case StrategyISINExact:
		upper := strings.ToUpper(query)
		predicate = func(row entity.Instrument) bool { return row.ISIN == upper }
	case StrategySymbolExact:
		upper := strings.ToUpper(query)
		predicate = func(row entity.Instrument) bool { return row.Symbol == upper }
	case StrategyNameSubstring:
		lower := strings.ToLower(query)
		predicate = func(row entity.Instrument) bool {
			return strings.Contains(strings.ToLower(row.Name), lower)
		}
	default:
		return nil
	}

	hits := make([]entity.Instrument, 0)
	for _, row := range rows {
		if row.Tradable && predicate(row) {
			hits = append(hits, row)
		}
	}

	return hits
}

func dedupeByID(rows []entity.Instrument) []entity.Instrument {
	seen := make(map[string]struct{}, len(rows))
	unique := make([]entity.Instrument, 0, len(rows))
	for _, row := range rows {
		if _, ok := seen[row.ID]; ok {
			continue
		}
		seen[row.ID] = struct{}{}
		unique = append(unique, row)
	}

	return unique
}

// IsISIN reports whether the query has a valid ISIN shape: two letters,
// nine alphanumerics and a correct Luhn check digit.
func IsISIN(query string) bool {
	query = strings.ToUpper(query)
	if !isinShape.MatchString(query) {
		return false
	}

	digits := make([]int, 0, len(query)*2)
	for _, r := range query {
		if r >= 'A' && r <= 'Z' {
			value := int(r-'A') + 10
			digits = append(digits, value/10, value%10)
		} else {
			digits = append(digits, int(r-'0'))
		}
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}

	return sum%10 == 0
}
