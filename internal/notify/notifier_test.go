package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

type fakeRepo struct {
	domain.Repository
	saved []*domain.Notification
}

func (f *fakeRepo) SaveNotification(_ context.Context, _ string, n *domain.Notification) error {
	f.saved = append(f.saved, n)
	return nil
}

type captureBus struct {
	topics   []string
	payloads [][]byte
}

func (b *captureBus) Publish(_ context.Context, _ string, topic string, payload []byte) error {
	b.topics = append(b.topics, topic)
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *captureBus) Subscribe(context.Context, string, string, domain.MessageHandler) (domain.Subscription, error) {
	return nil, nil
}

func (b *captureBus) Request(context.Context, string, string, []byte) ([]byte, error) {
	return nil, nil
}

func (b *captureBus) Ping(context.Context) error { return nil }
func (b *captureBus) Close() error               { return nil }

func TestSend(t *testing.T) {
	msg := domain.Notification{
		ID:        "notif-001",
		TenantID:  "tenant-001",
		RuleID:    "rule-001",
		Message:   "rule matched",
		CreatedAt: time.Now().UTC(),
	}

	t.Run("InApp", func(t *testing.T) {
		repo := &fakeRepo{}
		bus := &captureBus{}
		n := New(repo, bus)

		if err := n.Send(context.Background(), "tenant-001", domain.ChannelInApp, msg); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		if len(repo.saved) != 1 || repo.saved[0].Message != "rule matched" {
			t.Errorf("saved = %+v", repo.saved)
		}
		if len(bus.topics) != 0 {
			t.Errorf("in-app should not publish, got %v", bus.topics)
		}
	})

	t.Run("Email", func(t *testing.T) {
		repo := &fakeRepo{}
		bus := &captureBus{}
		n := New(repo, bus)

		if err := n.Send(context.Background(), "tenant-001", domain.ChannelEmail, msg); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		if len(bus.topics) != 1 || bus.topics[0] != domain.TopicNotificationEmail {
			t.Fatalf("topics = %v", bus.topics)
		}
		var got domain.Notification
		if err := json.Unmarshal(bus.payloads[0], &got); err != nil {
			t.Fatalf("payload not a notification: %v", err)
		}
		if got.Message != "rule matched" {
			t.Errorf("message = %q", got.Message)
		}
		if len(repo.saved) != 0 {
			t.Errorf("email should not persist, got %d saved", len(repo.saved))
		}
	})

	t.Run("UnknownChannel", func(t *testing.T) {
		n := New(&fakeRepo{}, &captureBus{})
		if err := n.Send(context.Background(), "tenant-001", "fax", msg); err == nil {
			t.Error("expected error for unknown channel")
		}
	})
}
