package shop

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated = "OrderCreated"
	EventOrderPaid    = "OrderPaid"
	EventOrderFailed  = "OrderFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a payload the same way at every publish site.
func NewEnvelope(eventType, producer, traceID, orderID string, payload any) Envelope {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       b,
	}
}

// ---- payloads ----

type OrderCreatedPayload struct {
	OrderID           string `json:"order_id"`
	UserID            string `json:"user_id"`
	TotalAmount       string `json:"total_amount"` // decimal as string
	CheckoutRequestID string `json:"checkout_request_id"`
}

type OrderPaidPayload struct {
	OrderID string    `json:"order_id"`
	PaidAt  time.Time `json:"paid_at"`
}

type RestoredLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type OrderFailedPayload struct {
	OrderID  string         `json:"order_id"`
	Status   Status         `json:"status"` // failed | cancelled | refunded
	Restored []RestoredLine `json:"restored,omitempty"`
}
