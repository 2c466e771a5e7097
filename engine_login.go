package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/COMRADE-APP/authcore/internal"
)

// Login verifies a password and opens the second verification step.
// It never issues tokens directly: the outcome tells the caller
// whether to prompt for a delivered one-time code or an authenticator
// code. Authentication completes in [Engine.VerifyLogin] or
// [Engine.VerifyLogin2FA]. The code ships over the account's
// preferred channel; [Engine.LoginWithChannel] overrides it.
func (e *Engine) Login(ctx context.Context, email, pass string) (*LoginOutcome, error) {
	return e.LoginWithChannel(ctx, email, pass, "")
}

// LoginWithChannel is [Engine.Login] with an explicit delivery channel
// for the one-time code. An empty channel falls back to the account's
// preference; the choice is ignored when the second step is an
// authenticator code.
func (e *Engine) LoginWithChannel(ctx context.Context, email, pass string, channel Channel) (*LoginOutcome, error) {
	if channel != "" && !channel.valid() {
		return nil, ErrChannelUnavailable
	}

	email = canonicalEmail(email)
	ip := clientIPFromContext(ctx)

	if err := e.limiter.Check(ctx, email, ip); err != nil {
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, nil)
		return nil, ErrLoginRateLimited
	}

	identity, err := e.lookupActiveIdentity(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Burn an attempt and return the generic failure so probes
			// cannot distinguish unknown accounts from wrong passwords.
			e.limiter.IncrementFailure(ctx, email, ip)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", err, nil)
		return nil, err
	}

	ok, err := e.hasher.Verify(pass, identity.PasswordHash)
	if err != nil || !ok {
		e.limiter.IncrementFailure(ctx, email, ip)
		e.recordDeviceAuthFailure(ctx)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.UserID, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if e.config.Password.UpgradeOnLogin {
		if upgrade, err := e.hasher.NeedsUpgrade(identity.PasswordHash); err == nil && upgrade {
			// Best effort: a failed upgrade never blocks login.
			if newHash, err := e.hasher.Hash(pass); err == nil {
				e.directory.UpdatePasswordHash(ctx, identity.UserID, newHash)
			}
		}
	}

	if _, err := e.evaluateDevice(ctx, identity.UserID); err != nil {
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.UserID, "", err, nil)
		return nil, err
	}

	e.emitAudit(ctx, auditEventLoginPassword, true, identity.UserID, "", nil, nil)

	if identity.TOTPEnabled {
		if err := e.openSecondFactorStage(ctx, identity.UserID); err != nil {
			return nil, err
		}
		return &LoginOutcome{NextStep: NextStepTOTP}, nil
	}

	deliverOn := channel
	if deliverOn == "" {
		deliverOn = identity.PreferredChannel
	}
	handle, err := e.issueChallenge(ctx, identity, PurposeLogin, deliverOn)
	if err != nil {
		return nil, err
	}
	return &LoginOutcome{NextStep: NextStepOTP, Challenge: handle}, nil
}

// openSecondFactorStage records that a password check passed and an
// authenticator code is now owed. The marker shares the login
// challenge slot so it inherits the attempt budget and expiry rules.
func (e *Engine) openSecondFactorStage(ctx context.Context, userID string) error {
	cid, err := internal.NewSessionID()
	if err != nil {
		return err
	}

	now := time.Now()
	record := &challengeRecord{
		ChallengeID: cid.String(),
		Stage:       stageTOTP,
		MaxAttempts: uint16(e.config.OTP.MaxAttempts),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(e.config.OTP.TTLFor(PurposeLogin)).Unix(),
		LastSentAt:  now.Unix(),
	}
	return e.challenges.Save(ctx, PurposeLogin, userID, record)
}

// VerifyLogin completes a login whose second step was a delivered
// one-time code.
func (e *Engine) VerifyLogin(ctx context.Context, email, code string) (*LoginOutcome, error) {
	email = canonicalEmail(email)

	identity, err := e.lookupActiveIdentity(ctx, email)
	if err != nil {
		e.metricInc(MetricOTPFailure)
		return nil, ErrChallengeNotFound
	}

	record, err := e.challenges.Consume(ctx, PurposeLogin, identity.UserID,
		challengeCodeHash(PurposeLogin, identity.UserID, code))
	if err != nil {
		switch {
		case errors.Is(err, ErrOTPExpired):
			e.metricInc(MetricOTPExpired)
		case errors.Is(err, ErrOTPMaxAttempts):
			e.metricInc(MetricOTPAttemptsExceeded)
			e.emitAudit(ctx, auditEventChallengeExhausted, false, identity.UserID, "", err, nil)
		default:
			e.metricInc(MetricOTPFailure)
		}
		e.recordDeviceAuthFailure(ctx)
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.UserID, "", err, nil)
		return nil, err
	}
	if record.Stage != stageOTP {
		// The pending step is an authenticator code, not a delivered one.
		e.metricInc(MetricOTPFailure)
		return nil, ErrChallengeNotFound
	}

	e.metricInc(MetricOTPSuccess)
	return e.completeLogin(ctx, identity, auditEventLoginVerified)
}

// VerifyLogin2FA completes a login whose second step is an
// authenticator code, falling back to a single-use backup code when
// the submitted value is not a plausible TOTP code.
func (e *Engine) VerifyLogin2FA(ctx context.Context, email, code string) (*LoginOutcome, error) {
	email = canonicalEmail(email)
	code = strings.TrimSpace(code)

	identity, err := e.lookupActiveIdentity(ctx, email)
	if err != nil {
		e.metricInc(MetricTOTPFailure)
		return nil, ErrChallengeNotFound
	}

	// The stage marker must exist: a 2FA submission without a prior
	// password success has nothing to consume.
	record, err := e.challenges.Get(ctx, PurposeLogin, identity.UserID)
	if err != nil {
		e.metricInc(MetricTOTPFailure)
		return nil, ErrChallengeNotFound
	}
	if record.Stage != stageTOTP {
		e.metricInc(MetricTOTPFailure)
		return nil, ErrChallengeNotFound
	}

	if err := e.checkSecondFactor(ctx, identity, code); err != nil {
		e.recordDeviceAuthFailure(ctx)
		if failErr := e.challenges.RecordFailure(ctx, PurposeLogin, identity.UserID); failErr != nil &&
			errors.Is(failErr, ErrOTPMaxAttempts) {
			e.metricInc(MetricOTPAttemptsExceeded)
			e.emitAudit(ctx, auditEventChallengeExhausted, false, identity.UserID, "", failErr, nil)
			return nil, failErr
		}
		e.emitAudit(ctx, auditEventTOTPFailure, false, identity.UserID, "", err, nil)
		return nil, err
	}

	e.challenges.Delete(ctx, PurposeLogin, identity.UserID)
	return e.completeLogin(ctx, identity, auditEventLoginVerified)
}

// checkSecondFactor validates an authenticator or backup code.
func (e *Engine) checkSecondFactor(ctx context.Context, identity Identity, code string) error {
	totpRecord, err := e.directory.GetTOTPSecret(ctx, identity.UserID)
	if err != nil || totpRecord == nil || !totpRecord.Enabled {
		return ErrTOTPNotConfigured
	}

	if len(code) == e.config.TOTP.Digits && isDigits(code) {
		counter, ok := e.totp.VerifyCode(totpRecord.Secret, code, time.Now())
		if !ok {
			e.metricInc(MetricTOTPFailure)
			return ErrTOTPInvalid
		}
		// The claim is a compare-and-set on the stored watermark, so
		// of two parallel submissions of the same code exactly one
		// wins; the loser lands here as a replay.
		claimed, err := e.directory.ClaimTOTPCounter(ctx, identity.UserID, counter)
		if err != nil {
			return err
		}
		if !claimed {
			e.metricInc(MetricTOTPReplay)
			e.emitAudit(ctx, auditEventTOTPReplay, false, identity.UserID, "", ErrTOTPReplay, nil)
			return ErrTOTPReplay
		}
		e.metricInc(MetricTOTPSuccess)
		return nil
	}

	return e.consumeBackupCode(ctx, identity.UserID, code)
}

// completeLogin resets throttles and issues the token pair.
func (e *Engine) completeLogin(ctx context.Context, identity Identity, eventType string) (*LoginOutcome, error) {
	ip := clientIPFromContext(ctx)
	e.limiter.Reset(ctx, identity.Email, ip)
	e.clearDeviceAuthFailures(ctx)

	tokens, err := e.issueTokens(ctx, identity.UserID, clientDeviceFromContext(ctx))
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, eventType, true, identity.UserID, tokens.SessionID, nil, nil)

	return &LoginOutcome{NextStep: NextStepAuthenticated, Tokens: tokens}, nil
}

func canonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
