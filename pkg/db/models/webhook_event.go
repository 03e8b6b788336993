package models

import "time"

// WebhookEvent records a gateway event that has been applied. The primary key
// is the dedup gate: inserting an existing (provider, event_id) is a replay.
type WebhookEvent struct {
	Provider         string    `gorm:"column:provider;primaryKey"`
	EventID          string    `gorm:"column:event_id;primaryKey"`
	EventType        string    `gorm:"column:event_type;not null"`
	PaymentReference string    `gorm:"column:payment_reference;not null;index"`
	Outcome          string    `gorm:"column:outcome;not null"`
	ProcessedAt      time.Time `gorm:"column:processed_at;not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
