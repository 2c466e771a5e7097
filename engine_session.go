package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/COMRADE-APP/authcore/internal"
	"github.com/COMRADE-APP/authcore/session"
)

// issueTokens mints a fresh session and its access/refresh pair. The
// refresh token embeds the session ID and a random secret whose hash
// is the only thing persisted.
func (e *Engine) issueTokens(ctx context.Context, userID, deviceID string) (*TokenPair, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	sessionID := sid.String()

	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &session.Session{
		SessionID:     sessionID,
		UserID:        userID,
		DeviceID:      deviceID,
		RefreshHash:   internal.HashRefreshSecret(secret),
		IPHash:        internal.HashKeyed("ip:"+userID, clientIPFromContext(ctx)),
		UserAgentHash: internal.HashKeyed("ua:"+userID, userAgentFromContext(ctx)),
		CreatedAt:     now.Unix(),
		ExpiresAt:     now.Add(e.config.Session.RefreshTTL).Unix(),
	}

	if err := e.sessions.Save(ctx, sess, e.config.Session.RefreshTTL); err != nil {
		return nil, ErrStoreUnavailable
	}

	accessToken, err := e.jwt.CreateAccess(userID, sessionID, deviceID)
	if err != nil {
		e.sessions.Delete(ctx, sessionID)
		return nil, err
	}

	refreshToken, err := internal.EncodeRefreshToken(sessionID, secret)
	if err != nil {
		e.sessions.Delete(ctx, sessionID)
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionIssued, true, userID, sessionID, nil, nil)

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		SessionID:        sessionID,
		AccessExpiresAt:  now.Add(e.config.JWT.AccessTTL).UTC(),
		RefreshExpiresAt: time.Unix(sess.ExpiresAt, 0).UTC(),
	}, nil
}

// Refresh rotates a refresh token: the presented secret is checked
// against the stored hash under a transaction, and a new pair is
// issued for the same session. Presenting an already-rotated token is
// treated as theft and revokes every session on the same device.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	sessionID, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	sess, err := e.sessions.Rotate(ctx, sessionID,
		internal.HashRefreshSecret(secret),
		internal.HashRefreshSecret(nextSecret))
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		switch {
		case errors.Is(err, session.ErrRefreshHashMismatch):
			// The stored hash moved on, so this token was already spent.
			// Revoke the whole device family before reporting reuse.
			return nil, e.handleRefreshReuse(ctx, sess)
		case errors.Is(err, session.ErrRefreshSessionNotFound),
			errors.Is(err, session.ErrRefreshSessionExpired):
			return nil, ErrRefreshInvalid
		case errors.Is(err, session.ErrRedisUnavailable):
			return nil, ErrStoreUnavailable
		default:
			return nil, ErrRefreshInvalid
		}
	}

	accessToken, err := e.jwt.CreateAccess(sess.UserID, sessionID, sess.DeviceID)
	if err != nil {
		return nil, err
	}

	newRefresh, err := internal.EncodeRefreshToken(sessionID, nextSecret)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshRotated, true, sess.UserID, sessionID, nil, nil)

	now := time.Now()
	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     newRefresh,
		SessionID:        sessionID,
		AccessExpiresAt:  now.Add(e.config.JWT.AccessTTL).UTC(),
		RefreshExpiresAt: time.Unix(sess.ExpiresAt, 0).UTC(),
	}, nil
}

// handleRefreshReuse escalates a spent-token presentation. The store
// already deleted the presented session; here the rest of the device
// family goes too.
func (e *Engine) handleRefreshReuse(ctx context.Context, sess *session.Session) error {
	e.metricInc(MetricRefreshReuseDetected)

	if sess != nil {
		if sess.DeviceID != "" {
			e.revokeDeviceSessions(ctx, sess.UserID, sess.DeviceID)
		} else {
			e.sessions.DeleteAllForUser(ctx, sess.UserID)
		}
		e.emitAudit(ctx, auditEventRefreshReuse, false, sess.UserID, sess.SessionID, ErrRefreshReuse, func() map[string]string {
			return map[string]string{"device_id": sess.DeviceID}
		})
	}
	return ErrRefreshReuse
}

// revokeDeviceSessions removes every session bound to a device and
// audits the sweep. Used by refresh-reuse handling and device revocation.
func (e *Engine) revokeDeviceSessions(ctx context.Context, userID, deviceID string) error {
	if err := e.sessions.DeleteAllForDevice(ctx, userID, deviceID); err != nil {
		return ErrStoreUnavailable
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, userID, "", nil, func() map[string]string {
		return map[string]string{"scope": "device", "device_id": deviceID}
	})
	return nil
}

// RevokeSession invalidates one session. Revocation is idempotent.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return ErrStoreUnavailable
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, "", sessionID, nil, nil)
	return nil
}

// LogoutAll invalidates every session a user holds, across devices.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if err := e.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return ErrStoreUnavailable
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, userID, "", nil, func() map[string]string {
		return map[string]string{"scope": "user"}
	})
	return nil
}

// ActiveSessionCount reports how many live sessions a user holds.
func (e *Engine) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	count, err := e.sessions.ActiveSessionCount(ctx, userID)
	if err != nil {
		return 0, ErrStoreUnavailable
	}
	return count, nil
}
