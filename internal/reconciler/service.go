package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/dukapay/go-shop-backend/internal/events"
	kafkax "github.com/dukapay/go-shop-backend/internal/kafka"
	"github.com/dukapay/go-shop-backend/internal/shop"
	kafkago "github.com/segmentio/kafka-go"
)

type applier interface {
	ApplyPaymentResult(ctx context.Context, checkoutRequestID string, resultCode int) (shop.ReconcileResult, error)
}

type verifier interface {
	VerifyTransaction(ctx context.Context, checkoutRequestID string) (int, error)
}

// Service is the safety net behind the push callback: it watches order.created
// events and polls the gateway for any order whose callback never arrives,
// feeding results through the same reconciliation transition the callback
// uses.
type Service struct {
	Store   store
	Recon   applier
	Gateway verifier
	Sink    *events.Sink
	Log     *slog.Logger

	InitialDelay time.Duration // wait before the first verify
	RetryDelay   time.Duration // base wait between verifies for one order
	PollInterval time.Duration // sweep frequency
	MaxAttempts  int           // give up after this many inconclusive verifies
	BatchSize    int64
}

func (s *Service) initialDelay() time.Duration { return orDefault(s.InitialDelay, 30*time.Second) }
func (s *Service) retryDelay() time.Duration   { return orDefault(s.RetryDelay, 30*time.Second) }
func (s *Service) pollInterval() time.Duration { return orDefault(s.PollInterval, 10*time.Second) }

func (s *Service) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return 10
}

func (s *Service) batchSize() int64 {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return 100
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// HandleOrderCreated is the kafka consumer handler: dedup on event id, then
// schedule the order's checkout request id for verification.
func (s *Service) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	var env shop.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != shop.EventOrderCreated {
		return nil
	}

	seen, err := s.Store.Seen(ctx, env.EventID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	p, err := kafkax.UnwrapPayload[shop.OrderCreatedPayload](env.Payload)
	if err != nil {
		return err
	}
	if p.CheckoutRequestID == "" {
		s.Log.Warn("order created without checkout request id", "order_id", p.OrderID)
		return nil
	}

	s.Log.Info("verification scheduled", "order_id", p.OrderID, "checkout_request_id", p.CheckoutRequestID)
	return s.Store.Schedule(ctx, p.CheckoutRequestID, time.Now().Add(s.initialDelay()))
}

// Run sweeps the due queue until the context ends.
func (s *Service) Run(ctx context.Context) error {
	t := time.NewTicker(s.pollInterval())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	refs, err := s.Store.Due(ctx, time.Now(), s.batchSize())
	if err != nil {
		s.Log.Error("due scan", "err", err)
		return
	}
	for _, ref := range refs {
		s.verifyOne(ctx, ref)
	}
}

func (s *Service) verifyOne(ctx context.Context, ref string) {
	attempt, err := s.Store.NextAttempt(ctx, ref)
	if err != nil {
		s.Log.Error("attempt counter", "checkout_request_id", ref, "err", err)
		return
	}

	code, err := s.Gateway.VerifyTransaction(ctx, ref)
	if err != nil {
		// Still processing, or the gateway is down. Back off or give up;
		// the manual verify endpoint remains for abandoned orders.
		if attempt >= s.maxAttempts() {
			s.Log.Warn("verification abandoned", "checkout_request_id", ref, "attempts", attempt, "err", err)
			_ = s.Store.Remove(ctx, ref)
			return
		}
		s.Log.Info("verification retry", "checkout_request_id", ref, "attempt", attempt, "err", err)
		_ = s.Store.Schedule(ctx, ref, time.Now().Add(s.retryDelay()*time.Duration(attempt)))
		return
	}

	res, err := s.Recon.ApplyPaymentResult(ctx, ref, code)
	switch {
	case errors.Is(err, shop.ErrOrderNotFound):
		s.Log.Warn("verification for unknown reference", "checkout_request_id", ref)
		s.Sink.Metrics.PaymentResults.WithLabelValues("unknown_reference").Inc()
		_ = s.Store.Remove(ctx, ref)
	case errors.Is(err, shop.ErrBusy):
		_ = s.Store.Schedule(ctx, ref, time.Now().Add(s.retryDelay()))
	case err != nil:
		s.Log.Error("apply payment result", "checkout_request_id", ref, "err", err)
		_ = s.Store.Schedule(ctx, ref, time.Now().Add(s.retryDelay()))
	default:
		_ = s.Store.Remove(ctx, ref)
		s.Sink.OrderSettled(ctx, "", res)
	}
}
