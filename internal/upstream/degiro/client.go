package degiro

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sebmertens/broker-gateway/internal/config"
	"github.com/sebmertens/broker-gateway/internal/entity"
	"github.com/sebmertens/broker-gateway/internal/metrics"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultRequestTimeout = 15 * time.Second
	quoteFields           = "BidPrice,AskPrice,LastPrice"
)

var errAuth = errors.New("upstream authentication failed")

// Client talks to the DEGIRO trader and quote APIs and maps every payload
// into entity types. It implements entity.Upstream.
type Client struct {
	baseURL      string
	quoteBaseURL string
	userToken    string
	session      *SessionManager
	httpClient   *http.Client
}

func NewClient(cfg config.UpstreamConfig, session *SessionManager) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		quoteBaseURL: strings.TrimRight(strings.TrimSpace(cfg.QuoteBaseURL), "/"),
		userToken:    strings.TrimSpace(cfg.UserToken),
		session:      session,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) SearchCatalog(ctx context.Context, query string, limit int) ([]entity.Instrument, error) {
	if limit <= 0 {
		limit = 20
	}

	params := url.Values{}
	params.Set("searchText", strings.TrimSpace(query))
	params.Set("offset", "0")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sortColumns", "name")
	params.Set("sortTypes", "asc")

	var envelope searchEnvelope
	err := c.doTraderJSON(ctx, http.MethodGet, "/secure/product_search/v5/s/stocks", params, nil, &envelope)
	metrics.UpstreamRequests.WithLabelValues("search_catalog", statusLabel(err)).Inc()
	if err != nil {
		return nil, err
	}

	instruments := make([]entity.Instrument, 0, len(envelope.Products))
	for _, row := range envelope.Products {
		instrument := row.toInstrument()
		if instrument.ID == "" {
			continue
		}
		instruments = append(instruments, instrument)
	}

	return instruments, nil
}

func (c *Client) SearchLeveraged(ctx context.Context, query entity.LeveragedQuery) ([]entity.LeveragedInstrument, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}

	params := url.Values{}
	params.Set("underlyingProductId", strings.TrimSpace(query.UnderlyingID))
	params.Set("shortLong", shortLongFromDirection(query.Direction))
	params.Set("offset", "0")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("requireTotal", "true")

	var envelope searchEnvelope
	err := c.doTraderJSON(ctx, http.MethodGet, "/secure/product_search/v5/s/leverageds", params, nil, &envelope)
	metrics.UpstreamRequests.WithLabelValues("search_leveraged", statusLabel(err)).Inc()
	if err != nil {
		return nil, err
	}

	products := make([]entity.LeveragedInstrument, 0, len(envelope.Products))
	for _, row := range envelope.Products {
		leveraged, ok := row.toLeveraged()
		if !ok || leveraged.ID == "" {
			continue
		}
		products = append(products, leveraged)
	}

	return products, nil
}

func (c *Client) ProductDetails(ctx context.Context, ids []string) (map[string]entity.Instrument, error) {
	if len(ids) == 0 {
		return map[string]entity.Instrument{}, nil
	}

	payload, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data map[string]productRow `json:"data"`
	}
	err = c.doTraderJSON(ctx, http.MethodPost, "/secure/product_search/v5/s/products/info", nil, payload, &envelope)
	metrics.UpstreamRequests.WithLabelValues("product_details", statusLabel(err)).Inc()
	if err != nil {
		return nil, err
	}

	details := make(map[string]entity.Instrument, len(envelope.Data))
	for id, row := range envelope.Data {
		instrument := row.toInstrument()
		if instrument.ID == "" {
			instrument.ID = id
		}
		details[id] = instrument
	}

	return details, nil
}

func (c *Client) GetQuotes(ctx context.Context, ids []string) (map[string]entity.QuoteRow, error) {
	if len(ids) == 0 {
		return map[string]entity.QuoteRow{}, nil
	}
	if c.userToken == "" {
		return nil, fmt.Errorf("%w: quote user token is missing in config", entity.ErrUpstreamUnavailable)
	}

	sessionID, err := c.quoteSession(ctx)
	metrics.UpstreamRequests.WithLabelValues("quote_session", statusLabel(err)).Inc()
	if err != nil {
		return nil, err
	}

	entries, err := c.fetchQuotes(ctx, sessionID, ids)
	metrics.UpstreamRequests.WithLabelValues("get_quotes", statusLabel(err)).Inc()
	if err != nil {
		return nil, err
	}

	rows := make(map[string]entity.QuoteRow, len(entries))
	for _, entry := range entries {
		id := strings.TrimSpace(entry.ProductID)
		if id == "" {
			continue
		}
		rows[id] = entity.QuoteRow{
			Bid:  decimalPtr(entry.Bid),
			Ask:  decimalPtr(entry.Ask),
			Last: decimalPtr(entry.Last),
		}
	}

	return rows, nil
}

func (c *Client) CheckOrder(ctx context.Context, intent entity.OrderIntent) (*entity.OrderCheck, error) {
	payload, err := json.Marshal(orderPayload(intent))
	if err != nil {
		return nil, err
	}

	var envelope checkOrderEnvelope
	err = c.doTraderJSON(ctx, http.MethodPost, "/secure/v5/checkOrder", nil, payload, &envelope)
	metrics.UpstreamRequests.WithLabelValues("check_order", statusLabel(err)).Inc()
	if err != nil {
		return nil, err
	}

	ref := strings.TrimSpace(envelope.Data.ConfirmationID)
	if ref == "" {
		return nil, fmt.Errorf("%w: order check returned no confirmation id", entity.ErrUpstreamUnavailable)
	}

	return &entity.OrderCheck{
		ConfirmationRef: ref,
		Fee:             decimal.NewFromFloat(envelope.Data.TransactionFee),
		TotalCost:       decimal.NewFromFloat(envelope.Data.TotalCost),
		FreeSpace:       decimal.NewFromFloat(envelope.Data.FreeSpaceNew),
	}, nil
}

func (c *Client) PlaceOrder(ctx context.Context, confirmationRef string, intent entity.OrderIntent) (string, error) {
	payload, err := json.Marshal(orderPayload(intent))
	if err != nil {
		return "", err
	}

	var envelope confirmOrderEnvelope
	err = c.doTraderJSON(ctx, http.MethodPost, "/secure/v5/order/"+url.PathEscape(confirmationRef), nil, payload, &envelope)
	metrics.UpstreamRequests.WithLabelValues("place_order", statusLabel(err)).Inc()
	if err != nil {
		return "", err
	}

	orderID := strings.TrimSpace(envelope.Data.OrderID)
	if orderID == "" {
		return "", fmt.Errorf("%w: order confirmation returned no order id", entity.ErrUpstreamUnavailable)
	}

	logrus.WithFields(logrus.Fields{
		"order_id":   orderID,
		"product_id": intent.ProductID,
		"side":       intent.Side,
		"kind":       intent.Kind,
		"quantity":   intent.Quantity,
	}).Info("upstream order placed")

	return orderID, nil
}

// doTraderJSON issues one trader-API request, attaching session credentials
// and re-authenticating once when the session has expired.
func (c *Client) doTraderJSON(ctx context.Context, method, path string, params url.Values, body []byte, out any) error {
	sessionID, err := c.session.SessionID(ctx)
	if err != nil {
		return authToTaxonomy(err)
	}

	status, err := c.traderRequest(ctx, method, path, params, body, sessionID, out)
	if status == http.StatusUnauthorized {
		c.session.Invalidate()
		sessionID, err = c.session.Refresh(ctx)
		if err != nil {
			return authToTaxonomy(err)
		}
		_, err = c.traderRequest(ctx, method, path, params, body, sessionID, out)
	}

	return err
}

func (c *Client) traderRequest(ctx context.Context, method, path string, params url.Values, body []byte, sessionID string, out any) (int, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("intAccount", strconv.FormatInt(c.session.IntAccount(), 10))
	params.Set("sessionId", sessionID)

	endpoint := c.baseURL + path + "?" + params.Encode()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, classifyTransport(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, fmt.Errorf("%w: session rejected", entity.ErrUpstreamUnavailable)
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, fmt.Errorf("%w: %s", entity.ErrNotFound, path)
	case resp.StatusCode >= http.StatusBadRequest:
		return resp.StatusCode, fmt.Errorf("%w: status=%d path=%s", entity.ErrUpstreamUnavailable, resp.StatusCode, path)
	}

	if out == nil {
		return resp.StatusCode, nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: parse failed for %s: %v", entity.ErrUpstreamUnavailable, path, err)
	}

	return resp.StatusCode, nil
}

func (c *Client) quoteSession(ctx context.Context) (string, error) {
	endpoint := c.quoteBaseURL + "/request_session?version=1.0&userToken=" + url.QueryEscape(c.userToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(`{"referrer":"https://trader.degiro.nl"}`))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransport(err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("%w: quote session rejected: status=%d", entity.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var envelope quoteSessionEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("%w: quote session parse failed: %v", entity.ErrUpstreamUnavailable, err)
	}

	sessionID := strings.TrimSpace(envelope.SessionID)
	if sessionID == "" {
		return "", fmt.Errorf("%w: quote session id is empty", entity.ErrUpstreamUnavailable)
	}

	return sessionID, nil
}

func (c *Client) fetchQuotes(ctx context.Context, sessionID string, ids []string) ([]quoteEntry, error) {
	subscriptions := make([]string, 0, len(ids))
	for _, id := range ids {
		subscriptions = append(subscriptions, "req("+id+"."+quoteFields+")")
	}

	payload, err := json.Marshal(map[string]any{"controlData": strings.Join(subscriptions, ";")})
	if err != nil {
		return nil, err
	}

	subEndpoint := c.quoteBaseURL + "/" + url.PathEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, subEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: quote subscribe rejected: status=%d", entity.ErrUpstreamUnavailable, resp.StatusCode)
	}

	fetchReq, err := http.NewRequestWithContext(ctx, http.MethodGet, subEndpoint, nil)
	if err != nil {
		return nil, err
	}

	fetchResp, err := c.httpClient.Do(fetchReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer fetchResp.Body.Close()

	raw, err := io.ReadAll(fetchResp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	if fetchResp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: quote fetch rejected: status=%d", entity.ErrUpstreamUnavailable, fetchResp.StatusCode)
	}

	var entries []quoteEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: quote fetch parse failed: %v", entity.ErrUpstreamUnavailable, err)
	}

	return entries, nil
}

func orderPayload(intent entity.OrderIntent) map[string]any {
	payload := map[string]any{
		"productId": intent.ProductID,
		"buySell":   string(intent.Side),
		"orderType": orderTypeCode(intent.Kind),
		"size":      intent.Quantity,
		"timeType":  timeTypeCode(intent.TimeInForce),
	}
	if intent.Price != nil {
		payload["price"], _ = intent.Price.Float64()
	}
	if intent.StopPrice != nil {
		payload["stopPrice"], _ = intent.StopPrice.Float64()
	}

	return payload
}

func orderTypeCode(kind entity.OrderKind) int {
	switch kind {
	case entity.OrderKindLimit:
		return 0
	case entity.OrderKindStopLimit:
		return 1
	case entity.OrderKindMarket:
		return 2
	case entity.OrderKindStopLoss:
		return 3
	default:
		return 2
	}
}

func timeTypeCode(tif entity.TimeInForce) int {
	if tif == entity.TimeInForceGTC {
		return 3
	}
	return 1
}

func decimalPtr(value *float64) *decimal.Decimal {
	if value == nil {
		return nil
	}
	d := decimal.NewFromFloat(*value)
	return &d
}

// classifyTransport maps raw transport failures onto the gateway taxonomy:
// deadline and timeout errors become ErrUpstreamTimeout, everything else
// ErrUpstreamUnavailable.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", entity.ErrUpstreamTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	return fmt.Errorf("%w: %v", entity.ErrUpstreamUnavailable, err)
}

func authToTaxonomy(err error) error {
	if errors.Is(err, errAuth) {
		return fmt.Errorf("%w: %v", entity.ErrUpstreamUnavailable, err)
	}
	return err
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
