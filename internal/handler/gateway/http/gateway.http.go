package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/sebmertens/broker-gateway/internal/config"
	"github.com/sebmertens/broker-gateway/internal/entity"
	"github.com/sebmertens/broker-gateway/internal/metrics"
	"github.com/sebmertens/broker-gateway/internal/service/leveraged"
	"github.com/sebmertens/broker-gateway/internal/service/orderflow"
	"github.com/sebmertens/broker-gateway/internal/service/search"
	"github.com/sebmertens/broker-gateway/internal/service/snapshot"
	"github.com/shopspring/decimal"
)

var (
	errAPIKeyMissing  = errors.New("api key is required")
	errAPIKeyInvalid  = errors.New("invalid api key")
	errAPIKeyInactive = errors.New("api key is inactive")
	errAPIKeyExpired  = errors.New("api key is expired")
)

type SearchRequest struct {
	ApiKey string `json:"api_key"`
	Query  string `json:"query"`
	Union  bool   `json:"union"`
}

type SearchResponse struct {
	Strategy string            `json:"strategy"`
	Matches  []InstrumentMatch `json:"matches"`
}

type InstrumentMatch struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ISIN     string `json:"isin"`
	Symbol   string `json:"symbol,omitempty"`
	Currency string `json:"currency"`
	Bid      string `json:"bid"`
	Ask      string `json:"ask"`
	Last     string `json:"last"`
}

type LeveragedSearchRequest struct {
	ApiKey       string      `json:"api_key"`
	UnderlyingID string      `json:"underlying_id"`
	Direction    string      `json:"direction"`
	MinLeverage  null.Float  `json:"min_leverage"`
	MaxLeverage  null.Float  `json:"max_leverage"`
	Subtype      null.String `json:"subtype"`
	Issuer       null.String `json:"issuer"`
	Limit        null.Int    `json:"limit"`
}

type LeveragedMatch struct {
	InstrumentMatch
	UnderlyingID string  `json:"underlying_id"`
	Leverage     float64 `json:"leverage"`
	Direction    string  `json:"direction"`
	Issuer       string  `json:"issuer"`
	Subtype      string  `json:"subtype"`
	Expiration   *int64  `json:"expiration,omitempty"`
}

type LeveragedSearchResponse struct {
	Matches []LeveragedMatch `json:"matches"`
}

type CheckOrderRequest struct {
	ApiKey      string      `json:"api_key"`
	ProductID   string      `json:"product_id"`
	Side        string      `json:"side"`
	Kind        string      `json:"kind"`
	Quantity    int64       `json:"quantity"`
	Price       null.String `json:"price"`
	StopPrice   null.String `json:"stop_price"`
	TimeInForce string      `json:"time_in_force"`
}

type CheckOrderResponse struct {
	TokenID      string `json:"token_id"`
	EstimatedFee string `json:"estimated_fee"`
	TotalCost    string `json:"total_cost"`
	FreeSpace    string `json:"free_space"`
	ExpiresAt    int64  `json:"expires_at"`
}

type PlaceOrderRequest struct {
	ApiKey  string `json:"api_key"`
	TokenID string `json:"token_id"`
}

type PlaceOrderResponse struct {
	OrderID      string `json:"order_id"`
	TokenID      string `json:"token_id"`
	EstimatedFee string `json:"estimated_fee"`
	TotalCost    string `json:"total_cost"`
	PlacedAt     int64  `json:"placed_at"`
}

type SnapshotResponse struct {
	Symbols   []SnapshotRow `json:"symbols"`
	Succeeded int           `json:"succeeded"`
}

type SnapshotRow struct {
	Symbol     string `json:"symbol"`
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Currency   string `json:"currency"`
	Priced     bool   `json:"priced"`
	Bid        string `json:"bid,omitempty"`
	Ask        string `json:"ask,omitempty"`
	Last       string `json:"last,omitempty"`
	CapturedAt *int64 `json:"captured_at,omitempty"`
}

type Handler struct {
	searchService    *search.Resolver
	leveragedService *leveraged.Finder
	orderService     *orderflow.Service
	snapshotService  *snapshot.Orchestrator
	streamInterval   time.Duration
}

func NewGatewayHTTPHandler(
	searchService *search.Resolver,
	leveragedService *leveraged.Finder,
	orderService *orderflow.Service,
	snapshotService *snapshot.Orchestrator,
	streamInterval time.Duration,
) *Handler {
	return &Handler{
		searchService:    searchService,
		leveragedService: leveragedService,
		orderService:     orderService,
		snapshotService:  snapshotService,
		streamInterval:   streamInterval,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/stocks/search", h.SearchStocks)
	mux.HandleFunc("/api/leveraged/search", h.SearchLeveraged)
	mux.HandleFunc("/api/orders/check", h.CheckOrder)
	mux.HandleFunc("/api/orders/place", h.PlaceOrder)
	mux.HandleFunc("/api/index/snapshot", h.IndexSnapshot)
	mux.HandleFunc("/api/index/stream", h.IndexStream)
	mux.HandleFunc("/api/health", h.Health)
	mux.Handle("/metrics", metrics.Handler())
}

func (h *Handler) SearchStocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	defer r.Body.Close()

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	if err := validateAPIKey(resolveAPIKey(r, req.ApiKey)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	resolution, err := h.searchService.Resolve(r.Context(), req.Query, req.Union)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	matches := make([]InstrumentMatch, 0, len(resolution.Matches))
	for _, match := range resolution.Matches {
		matches = append(matches, mapPricedInstrument(match))
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Strategy: resolution.Strategy,
		Matches:  matches,
	})
}

func (h *Handler) SearchLeveraged(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	defer r.Body.Close()

	var req LeveragedSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	if err := validateAPIKey(resolveAPIKey(r, req.ApiKey)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	if strings.TrimSpace(req.UnderlyingID) == "" || strings.TrimSpace(req.Direction) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing required fields"})
		return
	}

	filterReq, err := mapLeveragedRequest(&req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	results, err := h.leveragedService.Find(r.Context(), filterReq)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	matches := make([]LeveragedMatch, 0, len(results))
	for _, result := range results {
		matches = append(matches, mapPricedLeveraged(result))
	}

	writeJSON(w, http.StatusOK, LeveragedSearchResponse{Matches: matches})
}

func (h *Handler) CheckOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	defer r.Body.Close()

	var req CheckOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	if err := validateAPIKey(resolveAPIKey(r, req.ApiKey)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	intent, err := mapCheckOrderRequest(&req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	token, err := h.orderService.Check(r.Context(), intent)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CheckOrderResponse{
		TokenID:      token.ID,
		EstimatedFee: token.EstimatedFee.String(),
		TotalCost:    token.TotalCost.String(),
		FreeSpace:    token.FreeSpace.String(),
		ExpiresAt:    token.ExpiresAt.UnixMilli(),
	})
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	defer r.Body.Close()

	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	if err := validateAPIKey(resolveAPIKey(r, req.ApiKey)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	if strings.TrimSpace(req.TokenID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "token_id is required"})
		return
	}

	placed, err := h.orderService.Place(r.Context(), req.TokenID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PlaceOrderResponse{
		OrderID:      placed.OrderID,
		TokenID:      placed.TokenID,
		EstimatedFee: placed.EstimatedFee.String(),
		TotalCost:    placed.TotalCost.String(),
		PlacedAt:     placed.PlacedAt.UnixMilli(),
	})
}

func (h *Handler) IndexSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	if err := validateAPIKey(resolveAPIKey(r, r.URL.Query().Get("api_key"))); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	rows, succeeded, err := h.snapshotService.Capture(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapSnapshotResponse(rows, succeeded))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": config.ServiceName,
		"version": config.ServiceVersion,
	})
}

func mapPricedInstrument(match entity.PricedInstrument) InstrumentMatch {
	return InstrumentMatch{
		ID:       match.ID,
		Name:     match.Name,
		ISIN:     match.ISIN,
		Symbol:   match.Symbol,
		Currency: match.Currency,
		Bid:      match.Quote.Bid.String(),
		Ask:      match.Quote.Ask.String(),
		Last:     match.Quote.Last.String(),
	}
}

func mapPricedLeveraged(result entity.PricedLeveraged) LeveragedMatch {
	var expiration *int64
	if !result.Expiration.IsZero() {
		v := result.Expiration.UnixMilli()
		expiration = &v
	}

	return LeveragedMatch{
		InstrumentMatch: InstrumentMatch{
			ID:       result.ID,
			Name:     result.Name,
			ISIN:     result.ISIN,
			Symbol:   result.Symbol,
			Currency: result.Currency,
			Bid:      result.Quote.Bid.String(),
			Ask:      result.Quote.Ask.String(),
			Last:     result.Quote.Last.String(),
		},
		UnderlyingID: result.UnderlyingID,
		Leverage:     result.Leverage,
		Direction:    string(result.Direction),
		Issuer:       result.Issuer,
		Subtype:      string(result.Subtype),
		Expiration:   expiration,
	}
}

func mapLeveragedRequest(req *LeveragedSearchRequest) (leveraged.FilterRequest, error) {
	direction := entity.Direction(strings.ToUpper(strings.TrimSpace(req.Direction)))
	if direction != entity.DirectionLong && direction != entity.DirectionShort {
		return leveraged.FilterRequest{}, errors.New("direction must be LONG or SHORT")
	}

	filterReq := leveraged.FilterRequest{
		UnderlyingID: strings.TrimSpace(req.UnderlyingID),
		Direction:    direction,
	}

	if req.MinLeverage.Valid {
		filterReq.MinLeverage = req.MinLeverage.Float64
	}
	if req.MaxLeverage.Valid {
		filterReq.MaxLeverage = req.MaxLeverage.Float64
	}
	if req.Subtype.Valid {
		filterReq.Subtype = entity.Subtype(strings.ToUpper(strings.TrimSpace(req.Subtype.String)))
	}
	if req.Issuer.Valid {
		filterReq.Issuer = strings.TrimSpace(req.Issuer.String)
	}
	if req.Limit.Valid {
		filterReq.Limit = int(req.Limit.Int64)
	}

	return filterReq, nil
}

func mapCheckOrderRequest(req *CheckOrderRequest) (entity.OrderIntent, error) {
	intent := entity.OrderIntent{
		ProductID:   strings.TrimSpace(req.ProductID),
		Side:        entity.OrderSide(strings.ToUpper(strings.TrimSpace(req.Side))),
		Kind:        entity.OrderKind(strings.ToUpper(strings.TrimSpace(req.Kind))),
		Quantity:    req.Quantity,
		TimeInForce: entity.TimeInForce(strings.ToUpper(strings.TrimSpace(req.TimeInForce))),
	}
	if intent.TimeInForce == "" {
		intent.TimeInForce = entity.TimeInForceDay
	}

	if req.Price.Valid {
		price, err := decimal.NewFromString(req.Price.String)
		if err != nil {
			return entity.OrderIntent{}, errors.New("invalid price")
		}
		intent.Price = &price
	}

	if req.StopPrice.Valid {
		stopPrice, err := decimal.NewFromString(req.StopPrice.String)
		if err != nil {
			return entity.OrderIntent{}, errors.New("invalid stop_price")
		}
		intent.StopPrice = &stopPrice
	}

	return intent, nil
}

func mapSnapshotResponse(rows []entity.SymbolSnapshot, succeeded int) SnapshotResponse {
	symbols := make([]SnapshotRow, 0, len(rows))
	for _, row := range rows {
		out := SnapshotRow{
			Symbol:    row.Symbol,
			ProductID: row.ProductID,
			Name:      row.Name,
			Currency:  row.Currency,
			Priced:    row.Priced,
		}
		if row.Priced {
			out.Bid = row.Bid.String()
			out.Ask = row.Ask.String()
			out.Last = row.Last.String()
			capturedAt := row.CapturedAt.UnixMilli()
			out.CapturedAt = &capturedAt
		}
		symbols = append(symbols, out)
	}

	return SnapshotResponse{
		Symbols:   symbols,
		Succeeded: succeeded,
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrInvalidOrder):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, entity.ErrNotFound), errors.Is(err, entity.ErrNoUnderlying):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, entity.ErrTokenNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, entity.ErrTokenExpired):
		writeJSON(w, http.StatusGone, map[string]any{"error": err.Error()})
	case errors.Is(err, entity.ErrTokenAlreadyConsumed):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.Is(err, entity.ErrUpstreamTimeout):
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": err.Error()})
	case errors.Is(err, entity.ErrUpstreamUnavailable):
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func resolveAPIKey(r *http.Request, bodyKey string) string {
	if headerKey := strings.TrimSpace(r.Header.Get("X-API-Key")); headerKey != "" {
		return headerKey
	}

	return strings.TrimSpace(bodyKey)
}

func validateAPIKey(rawAPIKey string) error {
	apiKey := strings.TrimSpace(rawAPIKey)
	if apiKey == "" {
		return errAPIKeyMissing
	}

	if config.Env == nil || len(config.Env.APIKeys) == 0 {
		return errAPIKeyInvalid
	}

	now := time.Now().UTC()
	for _, candidate := range config.Env.APIKeys {
		storedKey := strings.TrimSpace(candidate.Key)
		if storedKey == "" {
			continue
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(storedKey)) != 1 {
			continue
		}

		if !candidate.Active {
			return errAPIKeyInactive
		}

		expiredAt, hasExpiry, err := parseExpiry(candidate.ExpiredAt)
		if err != nil {
			return errAPIKeyInvalid
		}
		if !hasExpiry {
			return nil
		}

		if !now.Before(expiredAt) {
			return errAPIKeyExpired
		}

		return nil
	}

	return errAPIKeyInvalid
}

func parseExpiry(value any) (time.Time, bool, error) {
	if value == nil {
		return time.Time{}, false, nil
	}

	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false, nil
		}
		return v.UTC(), true, nil
	case string:
		raw := strings.TrimSpace(v)
		if raw == "" {
			return time.Time{}, false, nil
		}

		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			return parsed.UTC(), true, nil
		}

		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, false, err
		}

		return parsed.UTC().Add(24 * time.Hour), true, nil
	default:
		return time.Time{}, false, errors.New("unsupported expiry type")
	}
}
