package leveraged

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sebmertens/broker-gateway/internal/entity"
	"github.com/sebmertens/broker-gateway/internal/service/quote"
	"github.com/sirupsen/logrus"
)

const (
	defaultLimit     = 50
	defaultFetchSize = 100
)

// FilterRequest enumerates every recognized filter option. There is no
// open-ended parameter bag; unknown options cannot exist.
type FilterRequest struct {
	UnderlyingID string
	Direction    entity.Direction
	MinLeverage  float64          // default 2.0
	MaxLeverage  float64          // default 10.0
	Subtype      entity.Subtype   // default ALL
	Issuer       string           // default ANY
	Limit        int              // default 50
}

func (r *FilterRequest) applyDefaults() {
	if r.MinLeverage <= 0 {
		r.MinLeverage = 2.0
	}
	if r.MaxLeverage <= 0 {
		r.MaxLeverage = 10.0
	}
	if r.Subtype == "" {
		r.Subtype = entity.SubtypeAll
	}
	if strings.TrimSpace(r.Issuer) == "" {
		r.Issuer = entity.IssuerAny
	}
	if r.Limit <= 0 {
		r.Limit = defaultLimit
	}
}

// Finder discovers leveraged derivatives for an underlying instrument. The
// filter predicate reads upstream-native structured fields only; leverage or
// direction are never derived from product display names.
type Finder struct {
	upstream  entity.Upstream
	quotes    *quote.Aggregator
	fetchSize int
}

func NewFinder(upstream entity.Upstream, quotes *quote.Aggregator, fetchSize int) *Finder {
	if fetchSize <= 0 {
		fetchSize = defaultFetchSize
	}

	return &Finder{
		upstream:  upstream,
		quotes:    quotes,
		fetchSize: fetchSize,
	}
}

// Find returns matching products ordered by ascending leverage with product
// id as tie-break, truncated to the limit only after ordering so the result
// never biases toward the upstream's unsorted first page. A predicate with
// no matches yields an empty slice, not an error.
func (f *Finder) Find(ctx context.Context, req FilterRequest) ([]entity.PricedLeveraged, error) {
	req.applyDefaults()

	underlyingID := strings.TrimSpace(req.UnderlyingID)
	if underlyingID == "" {
		return nil, fmt.Errorf("%w: empty underlying id", entity.ErrNoUnderlying)
	}

	if err := f.resolveUnderlying(ctx, underlyingID); err != nil {
		return nil, err
	}

	fetchSize := f.fetchSize
	if req.Limit*5 > fetchSize {
		fetchSize = req.Limit * 5
	}

	query := entity.LeveragedQuery{
		UnderlyingID: underlyingID,
		Direction:    req.Direction,
		Limit:        fetchSize,
	}

	rows, err := f.upstream.SearchLeveraged(ctx, query)
	if err != nil && entity.Transient(err) && ctx.Err() == nil {
		logrus.Warnf("leveraged search retrying after transient failure: %v", err)
		rows, err = f.upstream.SearchLeveraged(ctx, query)
	}
	if err != nil {
		return nil, err
	}

	matching := make([]entity.LeveragedInstrument, 0, len(rows))
	for _, row := range rows {
		if matches(row, req, underlyingID) {
			matching = append(matching, row)
		}
	}

	// Order before truncation: the upstream page is not sorted by leverage.
	sort.Slice(matching, func(i, j int) bool {
		if matching[i].Leverage != matching[j].Leverage {
			return matching[i].Leverage < matching[j].Leverage
		}
		return matching[i].ID < matching[j].ID
	})

	priced, err := f.attachQuotes(ctx, matching)
	if err != nil {
		return nil, err
	}

	if len(priced) > req.Limit {
		priced = priced[:req.Limit]
	}

	return priced, nil
}

func (f *Finder) resolveUnderlying(ctx context.Context, underlyingID string) error {
	details, err := f.upstream.ProductDetails(ctx, []string{underlyingID})
	if err != nil && entity.Transient(err) && ctx.Err() == nil {
		details, err = f.upstream.ProductDetails(ctx, []string{underlyingID})
	}
	if err != nil {
		return err
	}

	if _, ok := details[underlyingID]; !ok {
		return fmt.Errorf("%w: %s", entity.ErrNoUnderlying, underlyingID)
	}

	return nil
}

func (f *Finder) attachQuotes(ctx context.Context, rows []entity.LeveragedInstrument) ([]entity.PricedLeveraged, error) {
	if len(rows) == 0 {
		return []entity.PricedLeveraged{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	quotes, _, err := f.quotes.Prices(ctx, ids)
	if err != nil {
		return nil, err
	}

	priced := make([]entity.PricedLeveraged, 0, len(rows))
	for _, row := range rows {
		q, ok := quotes[row.ID]
		if !ok {
			continue
		}
		priced = append(priced, entity.PricedLeveraged{LeveragedInstrument: row, Quote: q})
	}

	return priced, nil
}

// matches evaluates the structured-field predicate. Every clause reads an
// upstream-native field; display names are never consulted.
func matches(row entity.LeveragedInstrument, req FilterRequest, underlyingID string) bool {
	if !row.Tradable {
		return false
	}
	if row.UnderlyingID != "" && row.UnderlyingID != underlyingID {
		return false
	}
	if row.Direction != req.Direction {
		return false
	}
	if row.Leverage < req.MinLeverage || row.Leverage > req.MaxLeverage {
		return false
	}
	if req.Subtype != entity.SubtypeAll && row.Subtype != req.Subtype {
		return false
	}
	if req.Issuer != entity.IssuerAny && !strings.EqualFold(row.Issuer, req.Issuer) {
		return false
	}

	return true
}
