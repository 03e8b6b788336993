package models

// All lists every model persisted by the storefront, in dependency order.
// Tests and the sqlite dev mode migrate with it; Postgres uses goose migrations.
func All() []any {
	return []any{
		&ProductVariant{},
		&Order{},
		&OrderLine{},
		&OrderStatusEvent{},
		&Reservation{},
		&ReservationItem{},
		&WebhookEvent{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
