package orderflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sebmertens/broker-gateway/internal/constant"
	"github.com/sebmertens/broker-gateway/internal/entity"
	"github.com/sebmertens/broker-gateway/internal/metrics"
	"github.com/sebmertens/broker-gateway/internal/util"
	"github.com/sirupsen/logrus"
)

const defaultTokenTTL = 60 * time.Second

// Service drives the two-phase order workflow: check validates an intent
// and freezes the upstream's cost estimate into a single-use confirmation
// token; place consumes that token exactly once.
type Service struct {
	upstream entity.Upstream
	tokens   TokenStore
	ttl      time.Duration
	js       nats.JetStreamContext // nil when eventing is not configured
	now      func() time.Time
}

func NewService(upstream entity.Upstream, tokens TokenStore, ttl time.Duration, js nats.JetStreamContext) *Service {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	return &Service{
		upstream: upstream,
		tokens:   tokens,
		ttl:      ttl,
		js:       js,
		now:      time.Now,
	}
}

func (s *Service) JetstreamEventInit(ctx context.Context) error {
	if s.js == nil {
		return nil
	}

	streamConfig := &nats.StreamConfig{
		Name:      constant.OrderGatewayStreamName,
		Subjects:  []string{constant.OrderGatewayStreamSubjectAll},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Replicas:  1,
	}

	stream, err := s.js.StreamInfo(constant.OrderGatewayStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.OrderGatewayStreamName)
		_, err = s.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	_, err = s.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	return nil
}

// Check validates structure locally, then delegates to the upstream for fee
// and margin estimation. Structural violations never reach the upstream.
func (s *Service) Check(ctx context.Context, intent entity.OrderIntent) (*entity.ConfirmationToken, error) {
	if err := validateIntent(intent); err != nil {
		metrics.OrdersChecked.WithLabelValues("invalid").Inc()
		return nil, err
	}

	check, err := s.upstream.CheckOrder(ctx, intent)
	if err != nil {
		metrics.OrdersChecked.WithLabelValues("error").Inc()
		return nil, err
	}

	issuedAt := s.now().UTC()
	token := &entity.ConfirmationToken{
		ID:           uuid.NewString(),
		UpstreamRef:  check.ConfirmationRef,
		Intent:       intent,
		EstimatedFee: check.Fee,
		TotalCost:    check.TotalCost,
		FreeSpace:    check.FreeSpace,
		State:        entity.TokenStateChecked,
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(s.ttl),
	}

	if err := s.tokens.Save(ctx, token); err != nil {
		metrics.OrdersChecked.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("save confirmation token: %w", err)
	}

	metrics.OrdersChecked.WithLabelValues("ok").Inc()

	return token, nil
}

// Place consumes the token and submits the frozen intent. The CHECKED →
// CONSUMED swap happens before the upstream call, so two concurrent places
// can never both submit. Placement is never retried: a transport failure
// after submission is ambiguous, and the caller owns reconciliation. The
// token stays consumed in that case.
func (s *Service) Place(ctx context.Context, tokenID string) (*entity.PlacedOrder, error) {
	token, err := s.tokens.Get(ctx, tokenID)
	if err != nil {
		metrics.OrdersPlaced.WithLabelValues("not_found").Inc()
		return nil, err
	}

	now := s.now().UTC()
	if token.ExpiredAt(now) {
		if _, err := s.tokens.Transition(ctx, tokenID, entity.TokenStateChecked, entity.TokenStateExpired); err != nil {
			logrus.Warnf("failed to expire token %s: %v", tokenID, err)
		}
		metrics.OrdersPlaced.WithLabelValues("expired").Inc()
		return nil, fmt.Errorf("%w: %s", entity.ErrTokenExpired, tokenID)
	}

	swapped, err := s.tokens.Transition(ctx, tokenID, entity.TokenStateChecked, entity.TokenStateConsumed)
	if err != nil {
		metrics.OrdersPlaced.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("consume confirmation token: %w", err)
	}
	if !swapped {
		metrics.OrdersPlaced.WithLabelValues("consumed").Inc()
		return nil, fmt.Errorf("%w: %s", entity.ErrTokenAlreadyConsumed, tokenID)
	}

	orderID, err := s.upstream.PlaceOrder(ctx, token.UpstreamRef, token.Intent)
	if err != nil {
		metrics.OrdersPlaced.WithLabelValues("error").Inc()
		return nil, err
	}

	placed := &entity.PlacedOrder{
		OrderID:      orderID,
		TokenID:      token.ID,
		Intent:       token.Intent,
		EstimatedFee: token.EstimatedFee,
		TotalCost:    token.TotalCost,
		PlacedAt:     s.now().UTC(),
	}

	s.publishPlaced(placed)
	metrics.OrdersPlaced.WithLabelValues("ok").Inc()

	return placed, nil
}

func (s *Service) publishPlaced(placed *entity.PlacedOrder) {
	if s.js == nil {
		return
	}

	event := entity.OrderPlacedEvent{
		OrderID:      placed.OrderID,
		TokenID:      placed.TokenID,
		Intent:       placed.Intent,
		EstimatedFee: placed.EstimatedFee.String(),
		TotalCost:    placed.TotalCost.String(),
		PlacedAt:     placed.PlacedAt,
	}

	if err := util.PublishEvent(s.js, constant.OrderGatewayStreamSubjectPlaced, event); err != nil {
		logrus.Errorf("failed to publish order placed event: %v", err)
	}
}

func validateIntent(intent entity.OrderIntent) error {
	if intent.ProductID == "" {
		return fmt.Errorf("%w: product id is required", entity.ErrInvalidOrder)
	}
	if intent.Side != entity.OrderSideBuy && intent.Side != entity.OrderSideSell {
		return fmt.Errorf("%w: unsupported side %q", entity.ErrInvalidOrder, intent.Side)
	}
	if intent.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", entity.ErrInvalidOrder)
	}
	if intent.TimeInForce != entity.TimeInForceDay && intent.TimeInForce != entity.TimeInForceGTC {
		return fmt.Errorf("%w: unsupported time in force %q", entity.ErrInvalidOrder, intent.TimeInForce)
	}

	switch intent.Kind {
	case entity.OrderKindMarket:
	case entity.OrderKindLimit:
		if intent.Price == nil || !intent.Price.IsPositive() {
			return fmt.Errorf("%w: limit price is required for %s orders", entity.ErrInvalidOrder, intent.Kind)
		}
	case entity.OrderKindStopLoss:
		if intent.StopPrice == nil || !intent.StopPrice.IsPositive() {
			return fmt.Errorf("%w: stop price is required for %s orders", entity.ErrInvalidOrder, intent.Kind)
		}
	case entity.OrderKindStopLimit:
		if intent.Price == nil || !intent.Price.IsPositive() {
			return fmt.Errorf("%w: limit price is required for %s orders", entity.ErrInvalidOrder, intent.Kind)
		}
		if intent.StopPrice == nil || !intent.StopPrice.IsPositive() {
			return fmt.Errorf("%w: stop price is required for %s orders", entity.ErrInvalidOrder, intent.Kind)
		}
	default:
		return fmt.Errorf("%w: unsupported order kind %q", entity.ErrInvalidOrder, intent.Kind)
	}

	return nil
}
