package authcore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/COMRADE-APP/authcore/delivery"
	"github.com/COMRADE-APP/authcore/internal"
	"github.com/COMRADE-APP/authcore/internal/rate"
	"github.com/COMRADE-APP/authcore/jwt"
	"github.com/COMRADE-APP/authcore/password"
	"github.com/COMRADE-APP/authcore/session"
)

// Engine orchestrates credential verification, one-time challenges,
// device trust, and session issuance. Construct one with [New] and
// its Builder; an Engine is safe for concurrent use.
type Engine struct {
	config     Config
	directory  UserDirectory
	jwt        *jwt.Manager
	hasher     *password.Hasher
	sessions   *session.Store
	challenges *challengeStore
	devices    *deviceStore
	totp       *totpManager
	limiter    *rate.Limiter
	audit      *auditDispatcher
	delivery   *deliveryDispatcher
	metrics    *Metrics

	closeOnce sync.Once
}

// Close drains the audit and delivery dispatchers. The Engine must
// not be used after Close returns.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.audit != nil {
			e.audit.Close()
		}
		if e.delivery != nil {
			e.delivery.Close()
		}
	})
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were discarded because
// the dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// DeliveryStatus reports the last known delivery outcome for a
// challenge returned by a login, registration, or reset call.
func (e *Engine) DeliveryStatus(ctx context.Context, challengeID string) (DeliveryState, error) {
	return e.delivery.Status(ctx, challengeID)
}

// ValidateAccess verifies an access token's signature and claims and
// confirms the session behind it still exists. A revoked or expired
// session invalidates the token before its own expiry.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*AccessResult, error) {
	start := time.Now()

	claims, err := e.jwt.ParseAccess(token)
	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, ErrTokenInvalid
	}

	if _, err := e.sessions.Get(ctx, claims.SID); err != nil {
		e.metricInc(MetricValidateFailure)
		if errors.Is(err, session.ErrRedisUnavailable) {
			return nil, ErrStoreUnavailable
		}
		return nil, ErrSessionRevoked
	}

	e.metricInc(MetricValidateSuccess)
	e.metrics.ObserveValidateLatency(time.Since(start))

	return &AccessResult{
		UserID:    claims.UID,
		SessionID: claims.SID,
		DeviceID:  claims.DID,
	}, nil
}

// lookupActiveIdentity resolves an email to an identity that is
// allowed to authenticate.
func (e *Engine) lookupActiveIdentity(ctx context.Context, email string) (Identity, error) {
	identity, err := e.directory.GetIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Identity{}, ErrUserNotFound
		}
		return Identity{}, err
	}

	switch identity.Status {
	case AccountPendingVerification:
		return Identity{}, ErrAccountPending
	case AccountDisabled:
		return Identity{}, ErrAccountDisabled
	}
	return identity, nil
}

// recipientFor picks the delivery address for a channel.
func recipientFor(identity Identity, channel Channel) (string, error) {
	switch channel {
	case ChannelSMS:
		if identity.Phone == "" {
			return "", ErrChannelUnavailable
		}
		return identity.Phone, nil
	default:
		if identity.Email == "" {
			return "", ErrChannelUnavailable
		}
		return identity.Email, nil
	}
}

// issueChallenge creates (or replaces) the pending challenge for a
// user and purpose, hashes the code into the record, and enqueues the
// plaintext for async delivery.
func (e *Engine) issueChallenge(ctx context.Context, identity Identity, purpose Purpose, channel Channel) (*ChallengeHandle, error) {
	if channel == "" {
		channel = identity.PreferredChannel
	}
	if channel == "" {
		channel = ChannelEmail
	}

	recipient, err := recipientFor(identity, channel)
	if err != nil {
		return nil, err
	}

	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return nil, err
	}

	cid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	challengeID := cid.String()

	ttl := e.config.OTP.TTLFor(purpose)
	now := time.Now()
	record := &challengeRecord{
		ChallengeID: challengeID,
		Channel:     channel,
		Stage:       stageOTP,
		CodeHash:    challengeCodeHash(purpose, identity.UserID, code),
		MaxAttempts: uint16(e.config.OTP.MaxAttempts),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(ttl).Unix(),
		LastSentAt:  now.Unix(),
	}

	if err := e.challenges.Save(ctx, purpose, identity.UserID, record); err != nil {
		return nil, err
	}

	job := deliveryJob{
		ChallengeID: challengeID,
		Channel:     channel,
		Message: delivery.Message{
			Recipient: recipient,
			Purpose:   string(purpose),
			Code:      code,
			TTLSecs:   int(ttl / time.Second),
		},
	}
	if err := e.delivery.Enqueue(ctx, job); err != nil {
		// The challenge stays live with its status marked failed, so a
		// resend can retry delivery without restarting the flow.
		e.metricInc(MetricDeliveryFailed)
		return nil, err
	}

	e.metricInc(MetricChallengeIssued)
	e.metricInc(MetricDeliveryEnqueued)

	return &ChallengeHandle{
		ChallengeID: challengeID,
		Purpose:     purpose,
		Channel:     channel,
		ExpiresAt:   time.Unix(record.ExpiresAt, 0).UTC(),
	}, nil
}

// ResendChallenge regenerates the pending code for a user and purpose
// and re-delivers it under the same challenge identity. A non-empty
// channel switches delivery away from the one the challenge was issued
// on. Resends inside the cooldown window are rejected.
func (e *Engine) ResendChallenge(ctx context.Context, email string, purpose Purpose, channel Channel) (*ChallengeHandle, error) {
	if !purpose.valid() {
		return nil, ErrChallengeNotFound
	}
	if channel != "" && !channel.valid() {
		return nil, ErrChannelUnavailable
	}

	identity, err := e.directory.GetIdentityByEmail(ctx, email)
	if err != nil {
		return nil, ErrChallengeNotFound
	}

	record, err := e.challenges.Get(ctx, purpose, identity.UserID)
	if err != nil {
		return nil, err
	}
	if record.Stage != stageOTP {
		return nil, ErrChallengeNotFound
	}

	now := time.Now()
	if now.Sub(time.Unix(record.LastSentAt, 0)) < e.config.OTP.ResendCooldown {
		e.metricInc(MetricChallengeResendBlocked)
		e.emitAudit(ctx, auditEventChallengeResendDenied, false, identity.UserID, "", ErrResendCooldown, nil)
		return nil, ErrResendCooldown
	}

	if channel != "" {
		record.Channel = channel
	}
	recipient, err := recipientFor(identity, record.Channel)
	if err != nil {
		return nil, err
	}

	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return nil, err
	}

	record.CodeHash = challengeCodeHash(purpose, identity.UserID, code)
	record.ResendCount++
	record.LastSentAt = now.Unix()

	if err := e.challenges.Save(ctx, purpose, identity.UserID, record); err != nil {
		return nil, err
	}

	job := deliveryJob{
		ChallengeID: record.ChallengeID,
		Channel:     record.Channel,
		Message: delivery.Message{
			Recipient: recipient,
			Purpose:   string(purpose),
			Code:      code,
			TTLSecs:   int(time.Until(time.Unix(record.ExpiresAt, 0)) / time.Second),
		},
	}
	if err := e.delivery.Enqueue(ctx, job); err != nil {
		e.metricInc(MetricDeliveryFailed)
		return nil, err
	}

	e.metricInc(MetricChallengeResent)
	e.emitAudit(ctx, auditEventChallengeResent, true, identity.UserID, "", nil, func() map[string]string {
		return map[string]string{"purpose": string(purpose)}
	})

	return &ChallengeHandle{
		ChallengeID: record.ChallengeID,
		Purpose:     purpose,
		Channel:     record.Channel,
		ExpiresAt:   time.Unix(record.ExpiresAt, 0).UTC(),
	}, nil
}
