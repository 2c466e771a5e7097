package authcore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/COMRADE-APP/authcore/delivery"
)

type flakySender struct {
	failures int32
	sent     atomic.Int32
}

func (f *flakySender) SendCode(ctx context.Context, msg delivery.Message) error {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return errors.New("gateway down")
	}
	f.sent.Add(1)
	return nil
}

func newTestDeliveryDispatcher(t *testing.T, sender delivery.EmailSender, retries int) *deliveryDispatcher {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	d := newDeliveryDispatcher(DeliveryConfig{
		BufferSize:   4,
		MaxRetries:   retries,
		RetryBackoff: time.Millisecond,
		StatusTTL:    time.Minute,
	}, sender, nil, client)
	t.Cleanup(d.Close)
	return d
}

func waitStatus(t *testing.T, d *deliveryDispatcher, challengeID string, want DeliveryState) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		state, err := d.Status(context.Background(), challengeID)
		if err == nil && state == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("status never reached %s (last %s, err %v)", want, state, err)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDeliveryRetriesThenSends(t *testing.T) {
	sender := &flakySender{failures: 2}
	d := newTestDeliveryDispatcher(t, sender, 3)

	err := d.Enqueue(context.Background(), deliveryJob{
		ChallengeID: "chal-1",
		Channel:     ChannelEmail,
		Message:     delivery.Message{Recipient: "a@example.com", Code: "482913"},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitStatus(t, d, "chal-1", DeliverySent)
	if sender.sent.Load() != 1 {
		t.Fatalf("sent %d times, want 1", sender.sent.Load())
	}
}

func TestDeliveryExhaustsRetries(t *testing.T) {
	sender := &flakySender{failures: 100}
	d := newTestDeliveryDispatcher(t, sender, 1)

	if err := d.Enqueue(context.Background(), deliveryJob{
		ChallengeID: "chal-2",
		Channel:     ChannelEmail,
		Message:     delivery.Message{Recipient: "a@example.com", Code: "482913"},
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitStatus(t, d, "chal-2", DeliveryFailed)
}

func TestDeliveryStatusUnknownChallenge(t *testing.T) {
	d := newTestDeliveryDispatcher(t, &flakySender{}, 0)

	if _, err := d.Status(context.Background(), "never-issued"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}
