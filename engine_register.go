package authcore

import (
	"context"
	"errors"
)

// Register creates a pending identity and dispatches the verification
// code for its delivery channel. The account cannot authenticate
// until [Engine.VerifyRegistration] succeeds.
func (e *Engine) Register(ctx context.Context, input RegisterInput) (*ChallengeHandle, error) {
	email := canonicalEmail(input.Email)

	if err := validatePasswordPolicy(input.Password); err != nil {
		return nil, err
	}

	if _, err := e.directory.GetIdentityByEmail(ctx, email); err == nil {
		e.emitAudit(ctx, auditEventRegistrationFailure, false, "", "", ErrUserExists, nil)
		return nil, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := e.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	channel := input.Channel
	if channel == "" {
		channel = ChannelEmail
	}

	identity, err := e.directory.CreateIdentity(ctx, CreateIdentityInput{
		Email:            email,
		Phone:            input.Phone,
		PasswordHash:     hash,
		PreferredChannel: channel,
		Status:           AccountPendingVerification,
	})
	if err != nil {
		return nil, err
	}

	handle, err := e.issueChallenge(ctx, identity, PurposeRegistration, channel)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRegistrationStarted)
	e.emitAudit(ctx, auditEventRegistrationStarted, true, identity.UserID, "", nil, func() map[string]string {
		return map[string]string{"channel": string(channel)}
	})
	return handle, nil
}

// VerifyRegistration consumes the registration code and activates the
// account. No tokens are issued; the caller proceeds to profile setup
// and a normal login.
func (e *Engine) VerifyRegistration(ctx context.Context, email, code string) (*LoginOutcome, error) {
	email = canonicalEmail(email)

	identity, err := e.directory.GetIdentityByEmail(ctx, email)
	if err != nil {
		e.metricInc(MetricOTPFailure)
		return nil, ErrChallengeNotFound
	}
	if identity.Status != AccountPendingVerification {
		return nil, ErrChallengeNotFound
	}

	if _, err := e.challenges.Consume(ctx, PurposeRegistration, identity.UserID,
		challengeCodeHash(PurposeRegistration, identity.UserID, code)); err != nil {
		switch {
		case errors.Is(err, ErrOTPExpired):
			e.metricInc(MetricOTPExpired)
		case errors.Is(err, ErrOTPMaxAttempts):
			e.metricInc(MetricOTPAttemptsExceeded)
			e.emitAudit(ctx, auditEventChallengeExhausted, false, identity.UserID, "", err, nil)
		default:
			e.metricInc(MetricOTPFailure)
		}
		e.emitAudit(ctx, auditEventRegistrationFailure, false, identity.UserID, "", err, nil)
		return nil, err
	}

	if err := e.directory.ActivateIdentity(ctx, identity.UserID); err != nil {
		return nil, err
	}

	e.metricInc(MetricOTPSuccess)
	e.metricInc(MetricRegistrationVerified)
	e.emitAudit(ctx, auditEventRegistrationVerified, true, identity.UserID, "", nil, nil)

	return &LoginOutcome{NextStep: NextStepProfileSetup}, nil
}
