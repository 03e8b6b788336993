package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregatePayment OutboxAggregateType = "payment"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names events consumed by the notification service.
type OutboxEventType string

const (
	EventOrderCreated    OutboxEventType = "order.created"
	EventOrderPaid       OutboxEventType = "order.paid"
	EventOrderProcessing OutboxEventType = "order.processing"
	EventOrderShipped    OutboxEventType = "order.shipped"
	EventOrderCancelled  OutboxEventType = "order.cancelled"
	EventOrderExpired    OutboxEventType = "order.expired"
	EventPaymentMismatch OutboxEventType = "payment.mismatch"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderProcessing,
	EventOrderShipped,
	EventOrderCancelled,
	EventOrderExpired,
	EventPaymentMismatch,
}

// IsValid reports whether the value is a known outbox event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}

// OrderStatusEvent maps a status reached by a transition to the event announcing it.
func OrderStatusEvent(status OrderStatus) (OutboxEventType, bool) {
	switch status {
	case OrderStatusPendingPayment:
		return EventOrderCreated, true
	case OrderStatusPaid:
		return EventOrderPaid, true
	case OrderStatusProcessing:
		return EventOrderProcessing, true
	case OrderStatusShipped:
		return EventOrderShipped, true
	case OrderStatusCancelled:
		return EventOrderCancelled, true
	case OrderStatusExpired:
		return EventOrderExpired, true
	}
	return "", false
}

// OutboxDLQErrorReason records why the publisher gave up on an event.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
