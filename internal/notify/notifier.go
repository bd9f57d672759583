// Package notify delivers rule notifications over the supported channels.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

// Notifier routes a notification to its channel: in-app notifications
// persist to the repository for the UI to poll, email notifications
// publish to the bus for the mail worker to pick up.
type Notifier struct {
	repo domain.Repository
	bus  domain.EventBus
}

// New creates a channel-routing notifier.
func New(repo domain.Repository, bus domain.EventBus) *Notifier {
	return &Notifier{repo: repo, bus: bus}
}

// Send delivers one notification on one channel.
func (n *Notifier) Send(ctx context.Context, tenantID string, channel domain.NotificationChannel, msg domain.Notification) error {
	switch channel {
	case domain.ChannelInApp:
		if err := n.repo.SaveNotification(ctx, tenantID, &msg); err != nil {
			return fmt.Errorf("save in-app notification: %w", err)
		}
		return nil

	case domain.ChannelEmail:
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := n.bus.Publish(ctx, tenantID, domain.TopicNotificationEmail, data); err != nil {
			return fmt.Errorf("publish email notification: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown notification channel: %s", channel)
	}
}
