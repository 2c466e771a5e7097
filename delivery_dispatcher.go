package authcore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/COMRADE-APP/authcore/delivery"
)

// Challenge codes are sent off the caller's request path. Each job
// carries the plaintext code; it is never written to Redis, only the
// delivery outcome is.

type deliveryJob struct {
	ChallengeID string
	Channel     Channel
	Message     delivery.Message
}

type deliveryDispatcher struct {
	cfg   DeliveryConfig
	email delivery.EmailSender
	sms   delivery.SMSGateway
	redis redis.UniversalClient
	queue *asyncQueue[deliveryJob]
}

func newDeliveryDispatcher(cfg DeliveryConfig, email delivery.EmailSender, sms delivery.SMSGateway, client redis.UniversalClient) *deliveryDispatcher {
	d := &deliveryDispatcher{
		cfg:   cfg,
		email: email,
		sms:   sms,
		redis: client,
	}
	d.queue = newAsyncQueue(cfg.BufferSize, d.deliver)
	return d
}

// Enqueue hands a code off for async delivery and marks the status
// key pending. A full buffer marks the status failed and rejects the
// job, so the caller can surface the outage instead of leaving the
// user waiting for a code that never arrives.
func (d *deliveryDispatcher) Enqueue(ctx context.Context, job deliveryJob) error {
	if (job.Channel == ChannelSMS && d.sms == nil) ||
		(job.Channel != ChannelSMS && d.email == nil) {
		d.setStatus(ctx, job.ChallengeID, DeliveryFailed)
		return ErrChannelUnavailable
	}

	d.setStatus(ctx, job.ChallengeID, DeliveryPending)
	if !d.queue.TryPush(job) {
		d.setStatus(ctx, job.ChallengeID, DeliveryFailed)
		return fmt.Errorf("%w: delivery queue full", ErrDeliveryFailed)
	}
	return nil
}

func (d *deliveryDispatcher) deliver(job deliveryJob) {
	ctx := context.Background()

	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(d.cfg.RetryBackoff * time.Duration(attempt))
		}

		sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		switch job.Channel {
		case ChannelSMS:
			lastErr = d.sms.SendCode(sendCtx, job.Message)
		default:
			lastErr = d.email.SendCode(sendCtx, job.Message)
		}
		cancel()

		if lastErr == nil {
			d.setStatus(ctx, job.ChallengeID, DeliverySent)
			return
		}
	}

	d.setStatus(ctx, job.ChallengeID, DeliveryFailed)
}

func (d *deliveryDispatcher) setStatus(ctx context.Context, challengeID string, state DeliveryState) {
	if challengeID == "" {
		return
	}
	d.redis.Set(ctx, "dlv:"+challengeID, string(state), d.cfg.StatusTTL)
}

// Status reports the last known delivery outcome for a challenge.
func (d *deliveryDispatcher) Status(ctx context.Context, challengeID string) (DeliveryState, error) {
	val, err := d.redis.Get(ctx, "dlv:"+challengeID).Result()
	if err == redis.Nil {
		return "", ErrChallengeNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return DeliveryState(val), nil
}

func (d *deliveryDispatcher) Dropped() uint64 {
	return d.queue.Dropped()
}

// Close stops accepting jobs and waits for queued deliveries to drain.
func (d *deliveryDispatcher) Close() {
	d.queue.Close()
}
