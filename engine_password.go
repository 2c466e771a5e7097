package authcore

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"
)

const (
	passwordMinLength = 8
	passwordMaxLength = 512
)

func validatePasswordPolicy(pass string) error {
	if len(pass) < passwordMinLength || len(pass) > passwordMaxLength {
		return ErrPasswordPolicy
	}
	return nil
}

// RequestPasswordReset dispatches a reset code when the account
// exists. It returns nil either way: the response never reveals
// whether an email is registered, and the latency of the miss path is
// jittered so timing does not either.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	email = canonicalEmail(email)

	e.metricInc(MetricPasswordResetRequest)

	identity, err := e.directory.GetIdentityByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			sleepJitter()
			e.emitAudit(ctx, auditEventPasswordResetRequest, true, "", "", nil, func() map[string]string {
				return map[string]string{"known_account": "false"}
			})
			return nil
		}
		return err
	}
	if identity.Status == AccountDisabled {
		sleepJitter()
		return nil
	}

	if _, err := e.issueChallenge(ctx, identity, PurposePasswordReset, identity.PreferredChannel); err != nil {
		// Delivery problems surface; they are not account signals.
		if errors.Is(err, ErrDeliveryFailed) || errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		sleepJitter()
		return nil
	}

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, identity.UserID, "", nil, nil)
	return nil
}

// ConfirmPasswordReset consumes the reset code, installs the new
// password, and revokes every session the user holds.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	email = canonicalEmail(email)

	if err := validatePasswordPolicy(newPassword); err != nil {
		return err
	}

	identity, err := e.directory.GetIdentityByEmail(ctx, email)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		return ErrChallengeNotFound
	}

	if _, err := e.challenges.Consume(ctx, PurposePasswordReset, identity.UserID,
		challengeCodeHash(PurposePasswordReset, identity.UserID, code)); err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, identity.UserID, "", err, nil)
		return err
	}

	if same, err := e.hasher.Verify(newPassword, identity.PasswordHash); err == nil && same {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, identity.UserID, "", ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.directory.UpdatePasswordHash(ctx, identity.UserID, newHash); err != nil {
		return err
	}

	// Every outstanding session dies with the old password.
	e.sessions.DeleteAllForUser(ctx, identity.UserID)
	e.limiter.Reset(ctx, identity.Email, clientIPFromContext(ctx))

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, identity.UserID, "", nil, nil)
	return nil
}

// ChangePassword replaces an authenticated user's password after
// verifying the current one, then revokes all other sessions. The
// session named keepSessionID survives so the caller stays signed in;
// pass empty to revoke everything.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword, keepSessionID string) error {
	if err := validatePasswordPolicy(newPassword); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		return err
	}

	identity, err := e.directory.GetIdentityByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(oldPassword, identity.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if newPassword == oldPassword {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, "", ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.directory.UpdatePasswordHash(ctx, userID, newHash); err != nil {
		return err
	}

	ids, err := e.sessions.ActiveSessionIDs(ctx, userID)
	if err == nil {
		for _, sid := range ids {
			if sid == keepSessionID {
				continue
			}
			e.sessions.Delete(ctx, sid)
		}
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, userID, keepSessionID, nil, nil)
	return nil
}

// sleepJitter delays the miss path of reset requests by 50-150ms so
// account existence does not leak through response timing.
func sleepJitter() {
	n, err := rand.Int(rand.Reader, big.NewInt(100))
	if err != nil {
		time.Sleep(100 * time.Millisecond)
		return
	}
	time.Sleep(time.Duration(50+n.Int64()) * time.Millisecond)
}
