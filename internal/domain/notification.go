package domain

import (
	"context"
	"time"
)

// Notification is a message produced by a send_notification action or by
// the approval queue.
type Notification struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	RuleID    string    `json:"ruleId,omitempty"`
	EntityID  string    `json:"entityId,omitempty"`
	Message   string    `json:"message"`
	Recipient string    `json:"recipient,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notifier delivers a notification on one channel. Channel attempts are
// independent; the executor fans out and aggregates per-channel results.
type Notifier interface {
	Send(ctx context.Context, tenantID string, channel NotificationChannel, n Notification) error
}
