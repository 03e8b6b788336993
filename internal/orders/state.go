package orders

import (
	"fmt"

	"github.com/stitchline/storefront-backend/pkg/enums"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
)

// Event is an input to the order state machine.
type Event string

const (
	EventPaymentConfirmed   Event = "payment_confirmed"
	EventPaymentFailed      Event = "payment_failed"
	EventReservationExpired Event = "reservation_expired"
	EventFulfillmentStarted Event = "fulfillment_started"
	EventDispatched         Event = "dispatched"
	EventCancelRequested    Event = "cancel_requested"

	// eventCreated is only written to the status history, never applied.
	eventCreated Event = "checkout_created"
)

// ReservationEffect is what a transition does to the order's inventory hold.
type ReservationEffect int

const (
	ReservationUntouched ReservationEffect = iota
	ReservationCommit
	ReservationRelease
)

func (e ReservationEffect) String() string {
	switch e {
	case ReservationCommit:
		return "commit"
	case ReservationRelease:
		return "release"
	}
	return "none"
}

// Transition is one row of the state table.
type Transition struct {
	From   enums.OrderStatus
	Event  Event
	To     enums.OrderStatus
	Effect ReservationEffect
}

type transitionKey struct {
	from  enums.OrderStatus
	event Event
}

var transitionTable = []Transition{
	{From: enums.OrderStatusPendingPayment, Event: EventPaymentConfirmed, To: enums.OrderStatusPaid, Effect: ReservationCommit},
	{From: enums.OrderStatusPendingPayment, Event: EventPaymentFailed, To: enums.OrderStatusCancelled, Effect: ReservationRelease},
	{From: enums.OrderStatusPendingPayment, Event: EventReservationExpired, To: enums.OrderStatusExpired, Effect: ReservationRelease},
	{From: enums.OrderStatusPendingPayment, Event: EventCancelRequested, To: enums.OrderStatusCancelled, Effect: ReservationRelease},
	{From: enums.OrderStatusPaid, Event: EventFulfillmentStarted, To: enums.OrderStatusProcessing},
	// stock was committed on payment and stays consumed; refunds are handled outside the storefront
	{From: enums.OrderStatusPaid, Event: EventCancelRequested, To: enums.OrderStatusCancelled},
	{From: enums.OrderStatusProcessing, Event: EventDispatched, To: enums.OrderStatusShipped},
}

var transitions = func() map[transitionKey]Transition {
	out := make(map[transitionKey]Transition, len(transitionTable))
	for _, t := range transitionTable {
		out[transitionKey{from: t.From, event: t.Event}] = t
	}
	return out
}()

// IllegalTransition describes a rejected event.
type IllegalTransition struct {
	OrderNumber string            `json:"order_number,omitempty"`
	Status      enums.OrderStatus `json:"status"`
	Event       Event             `json:"event"`
}

// Next looks up the transition for event from the given status.
func Next(from enums.OrderStatus, event Event) (Transition, error) {
	t, ok := transitions[transitionKey{from: from, event: event}]
	if !ok {
		return Transition{}, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot apply %s to an order that is %s", event, from)).
			WithDetails(IllegalTransition{Status: from, Event: event})
	}
	return t, nil
}

// Transitions returns a copy of the state table.
func Transitions() []Transition {
	out := make([]Transition, len(transitionTable))
	copy(out, transitionTable)
	return out
}

// ParseEvent converts raw input into an Event accepted by Apply.
func ParseEvent(value string) (Event, error) {
	for _, t := range transitionTable {
		if string(t.Event) == value {
			return t.Event, nil
		}
	}
	return "", fmt.Errorf("invalid order event %q", value)
}
