package authcore

import (
	"context"
	"time"

	"github.com/COMRADE-APP/authcore/internal"
)

// BeginTOTPSetup mints a fresh authenticator secret for a user and
// opens the confirmation window. The secret is stored unconfirmed;
// starting over before confirming replaces it. The base32 secret and
// provisioning URI are returned exactly once.
func (e *Engine) BeginTOTPSetup(ctx context.Context, userID string) (*TOTPSetup, error) {
	identity, err := e.directory.GetIdentityByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if identity.TOTPEnabled {
		// Overwriting an active secret would strand 2FA logins on a
		// code the user never enrolled.
		return nil, ErrTOTPAlreadyEnabled
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := e.directory.SaveTOTPSecret(ctx, userID, secret); err != nil {
		return nil, err
	}

	cid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	expiresAt := now.Add(e.config.TOTP.SetupTTL)
	record := &challengeRecord{
		ChallengeID: cid.String(),
		Stage:       stageTOTP,
		MaxAttempts: uint16(e.config.OTP.MaxAttempts),
		CreatedAt:   now.Unix(),
		ExpiresAt:   expiresAt.Unix(),
		LastSentAt:  now.Unix(),
	}
	if err := e.challenges.Save(ctx, PurposeTOTPSetup, userID, record); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventTOTPSetupStarted, true, userID, "", nil, nil)

	account := identity.Email
	if account == "" {
		account = userID
	}
	return &TOTPSetup{
		SecretBase32:    e.totp.SecretBase32(secret),
		ProvisioningURI: e.totp.ProvisionURI(secret, account),
		ExpiresAt:       expiresAt.UTC(),
	}, nil
}

// ConfirmTOTPSetup proves the user enrolled the secret by verifying a
// live code inside the setup window, enables TOTP for future logins,
// and mints the backup code batch. The returned plaintexts are shown
// once and only their hashes persist.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, userID, code string) ([]string, error) {
	record, err := e.challenges.Get(ctx, PurposeTOTPSetup, userID)
	if err != nil {
		return nil, err
	}
	if record.Stage != stageTOTP {
		return nil, ErrChallengeNotFound
	}

	totpRecord, err := e.directory.GetTOTPSecret(ctx, userID)
	if err != nil || totpRecord == nil || len(totpRecord.Secret) == 0 {
		return nil, ErrTOTPNotConfigured
	}

	counter, ok := e.totp.VerifyCode(totpRecord.Secret, code, time.Now())
	if !ok {
		e.metricInc(MetricTOTPFailure)
		if failErr := e.challenges.RecordFailure(ctx, PurposeTOTPSetup, userID); failErr != nil {
			e.emitAudit(ctx, auditEventTOTPFailure, false, userID, "", failErr, nil)
			return nil, failErr
		}
		e.emitAudit(ctx, auditEventTOTPFailure, false, userID, "", ErrTOTPInvalid, nil)
		return nil, ErrTOTPInvalid
	}

	// The batch persists before the enable flag flips. A failure in
	// between leaves an unconfirmed secret with spare codes, never an
	// active authenticator with no recovery path.
	codes, err := e.mintBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := e.directory.EnableTOTP(ctx, userID); err != nil {
		return nil, err
	}
	e.directory.ClaimTOTPCounter(ctx, userID, counter)
	e.challenges.Delete(ctx, PurposeTOTPSetup, userID)

	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, userID, "", nil, nil)
	return codes, nil
}

// RegenerateTOTPSecret discards the active authenticator secret and
// its backup codes after re-proving the password, then opens a fresh
// enrollment. Second-factor logins stay off until the replacement is
// confirmed.
func (e *Engine) RegenerateTOTPSecret(ctx context.Context, userID, pass string) (*TOTPSetup, error) {
	identity, err := e.directory.GetIdentityByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !identity.TOTPEnabled {
		return nil, ErrTOTPNotConfigured
	}
	if err := e.DisableTOTP(ctx, userID, pass); err != nil {
		return nil, err
	}
	return e.BeginTOTPSetup(ctx, userID)
}

// DisableTOTP turns off authenticator verification after re-proving
// the password, and discards the backup code batch with it.
func (e *Engine) DisableTOTP(ctx context.Context, userID, pass string) error {
	identity, err := e.directory.GetIdentityByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(pass, identity.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventTOTPFailure, false, userID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := e.directory.DisableTOTP(ctx, userID); err != nil {
		return err
	}
	if err := e.directory.ReplaceBackupCodes(ctx, userID, nil); err != nil {
		return err
	}
	e.challenges.Delete(ctx, PurposeTOTPSetup, userID)

	e.emitAudit(ctx, auditEventTOTPDisabled, true, userID, "", nil, nil)
	return nil
}
