package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestChannelBusPublishSubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var received []*domain.Message
	handler := func(_ context.Context, msg *domain.Message) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg)
		return nil
	}

	sub, err := b.Subscribe(ctx, "tenant-001", domain.TopicRuleMatched, handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if sub.Topic() != domain.TopicRuleMatched {
		t.Errorf("topic = %q", sub.Topic())
	}

	if err := b.Publish(ctx, "tenant-001", domain.TopicRuleMatched, []byte(`{"ruleId":"rule-001"}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, "message not delivered")

	mu.Lock()
	msg := received[0]
	mu.Unlock()
	if msg.TenantID != "tenant-001" || msg.Topic != domain.TopicRuleMatched {
		t.Errorf("message = %+v", msg)
	}
	if string(msg.Payload) != `{"ruleId":"rule-001"}` {
		t.Errorf("payload = %s", msg.Payload)
	}
}

func TestChannelBusTenantIsolation(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	_, err := b.Subscribe(ctx, "tenant-002", domain.TopicRuleMatched, func(_ context.Context, _ *domain.Message) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// A message for tenant-001 must never reach tenant-002's handler.
	b.Publish(ctx, "tenant-001", domain.TopicRuleMatched, []byte("x"))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("tenant-002 received %d messages for tenant-001", count)
	}
}

func TestChannelBusUnsubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	sub, _ := b.Subscribe(ctx, "tenant-001", domain.TopicActionApplied, func(_ context.Context, _ *domain.Message) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	})

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	b.Publish(ctx, "tenant-001", domain.TopicActionApplied, []byte("x"))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("unsubscribed handler received %d messages", count)
	}
}

func TestChannelBusMultipleSubscribers(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	counts := make(map[int]int)
	for i := 0; i < 3; i++ {
		i := i
		_, err := b.Subscribe(ctx, "tenant-001", domain.TopicIssueResolved, func(_ context.Context, _ *domain.Message) error {
			mu.Lock()
			defer mu.Unlock()
			counts[i]++
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe %d failed: %v", i, err)
		}
	}

	b.Publish(ctx, "tenant-001", domain.TopicIssueResolved, []byte("x"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts[0] == 1 && counts[1] == 1 && counts[2] == 1
	}, "not all subscribers received the message")
}

func TestChannelBusRequiresTenantID(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	if err := b.Publish(ctx, "", "topic", []byte("x")); err == nil {
		t.Error("expected error for empty tenantID on publish")
	}
	if _, err := b.Subscribe(ctx, "", "topic", nil); err == nil {
		t.Error("expected error for empty tenantID on subscribe")
	}
}

func TestChannelBusClosed(t *testing.T) {
	b := NewChannelBus(10)
	ctx := context.Background()

	if err := b.Ping(ctx); err != nil {
		t.Errorf("Ping on open bus failed: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := b.Publish(ctx, "tenant-001", "topic", []byte("x")); err == nil {
		t.Error("expected error publishing on a closed bus")
	}
	if _, err := b.Subscribe(ctx, "tenant-001", "topic", nil); err == nil {
		t.Error("expected error subscribing on a closed bus")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("expected error pinging a closed bus")
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close should be a no-op: %v", err)
	}
}

func TestNewFactory(t *testing.T) {
	t.Run("Channel", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()
		if _, ok := b.(*ChannelBus); !ok {
			t.Errorf("expected *ChannelBus, got %T", b)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unknown bus type")
		}
	})
}
