package events

import (
	"context"
	"fmt"
	"time"

	kafkax "github.com/dukapay/go-shop-backend/internal/kafka"
	"github.com/dukapay/go-shop-backend/internal/metrics"
	"github.com/dukapay/go-shop-backend/internal/redisx"
	"github.com/dukapay/go-shop-backend/internal/shop"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// Sink is the one place order lifecycle results turn into events, cache
// updates, and metrics. Checkout, callback, manual verify, the background
// verifier, and admin cancel/refund all settle through it so their side
// effects can't drift apart.
type Sink struct {
	Created *kafkax.Producer
	Paid    *kafkax.Producer
	Failed  *kafkax.Producer
	Redis   *redis.Client
	Metrics *metrics.Shop
	Service string
}

func (s *Sink) OrderCreated(ctx context.Context, traceID, userID string, res shop.CheckoutResult) {
	ev := shop.NewEnvelope(shop.EventOrderCreated, s.Service, traceID, res.OrderID, shop.OrderCreatedPayload{
		OrderID:           res.OrderID,
		UserID:            userID,
		TotalAmount:       res.TotalAmount.String(),
		CheckoutRequestID: res.CheckoutRequestID,
	})
	s.publish(s.Created, shop.EventOrderCreated, res.OrderID, ev)
	s.cacheStatus(ctx, res.OrderID, shop.StatusPending)
}

// OrderSettled publishes the outcome of a reconciliation transition. No-op
// results (duplicate deliveries) only refresh the status cache.
func (s *Sink) OrderSettled(ctx context.Context, traceID string, res shop.ReconcileResult) {
	s.cacheStatus(ctx, res.OrderID, res.Status)
	if !res.Applied {
		s.Metrics.PaymentResults.WithLabelValues("already_finalized").Inc()
		return
	}

	if res.Status == shop.StatusPaid {
		s.Metrics.PaymentResults.WithLabelValues("paid").Inc()
		ev := shop.NewEnvelope(shop.EventOrderPaid, s.Service, traceID, res.OrderID, shop.OrderPaidPayload{
			OrderID: res.OrderID,
			PaidAt:  time.Now().UTC(),
		})
		s.publish(s.Paid, shop.EventOrderPaid, res.OrderID, ev)
		return
	}

	s.Metrics.PaymentResults.WithLabelValues(string(res.Status)).Inc()
	if len(res.Restored) > 0 {
		s.Metrics.StockRestores.Inc()
	}
	ev := shop.NewEnvelope(shop.EventOrderFailed, s.Service, traceID, res.OrderID, shop.OrderFailedPayload{
		OrderID:  res.OrderID,
		Status:   res.Status,
		Restored: res.Restored,
	})
	s.publish(s.Failed, shop.EventOrderFailed, res.OrderID, ev)
}

func (s *Sink) publish(p *kafkax.Producer, eventType, orderID string, ev shop.Envelope) {
	p.Publish(shop.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Sink) cacheStatus(ctx context.Context, orderID string, status shop.Status) {
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = s.Redis.Set(ctx, key, fmt.Sprintf(`{"status":%q}`, status), redisx.TTLStatusCache).Err()
}
