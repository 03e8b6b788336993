package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Actor roles recorded on emitted events.
const (
	ActorSystem   = "system"
	ActorCustomer = "customer"
	ActorAdmin    = "admin"
	ActorGateway  = "gateway"
)

// ActorRef identifies who caused the event.
type ActorRef struct {
	Role   string     `json:"role"`
	UserID *uuid.UUID `json:"userId,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// SystemActor is used by the sweeper and other background work.
func SystemActor() *ActorRef {
	return &ActorRef{Role: ActorSystem}
}
