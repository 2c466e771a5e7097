package authcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginPassword         = "login_password"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventLoginVerified         = "login_verified"
	auditEventLoginFailure          = "login_failure"
	auditEventChallengeIssued       = "challenge_issued"
	auditEventChallengeResent       = "challenge_resent"
	auditEventChallengeResendDenied = "challenge_resend_denied"
	auditEventChallengeExhausted    = "challenge_attempts_exceeded"
	auditEventRegistrationStarted   = "registration_started"
	auditEventRegistrationVerified  = "registration_verified"
	auditEventRegistrationFailure   = "registration_failure"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetConfirm  = "password_reset_confirm"
	auditEventPasswordChange        = "password_change"
	auditEventTOTPSetupStarted      = "totp_setup_started"
	auditEventTOTPEnabled           = "totp_enabled"
	auditEventTOTPDisabled          = "totp_disabled"
	auditEventTOTPFailure           = "totp_failure"
	auditEventTOTPReplay            = "totp_replay"
	auditEventBackupCodesGenerated  = "backup_codes_generated"
	auditEventBackupCodeUsed        = "backup_code_used"
	auditEventBackupCodeFailed      = "backup_code_failed"
	auditEventDeviceSeen            = "device_seen"
	auditEventDeviceSuspicious      = "device_suspicious"
	auditEventDeviceTrusted         = "device_trusted"
	auditEventDeviceRevoked         = "device_revoked"
	auditEventSessionIssued         = "session_issued"
	auditEventSessionRevoked        = "session_revoked"
	auditEventRefreshRotated        = "refresh_rotated"
	auditEventRefreshReuse          = "refresh_reuse_detected"
	auditEventDeliveryFailed        = "delivery_failed"
)

type auditErrorCode string

const (
	auditErrInvalidCredentials auditErrorCode = "invalid_credentials"
	auditErrUserNotFound       auditErrorCode = "user_not_found"
	auditErrAccountPending     auditErrorCode = "account_pending"
	auditErrAccountDisabled    auditErrorCode = "account_disabled"
	auditErrRateLimited        auditErrorCode = "rate_limited"
	auditErrChallengeNotFound  auditErrorCode = "challenge_not_found"
	auditErrOTPExpired         auditErrorCode = "otp_expired"
	auditErrOTPInvalid         auditErrorCode = "otp_invalid"
	auditErrOTPAttempts        auditErrorCode = "otp_attempts_exceeded"
	auditErrResendCooldown     auditErrorCode = "resend_cooldown"
	auditErrTOTPInvalid        auditErrorCode = "totp_invalid"
	auditErrTOTPReplay         auditErrorCode = "totp_replay"
	auditErrBackupCode         auditErrorCode = "backup_code_rejected"
	auditErrRefreshReuse       auditErrorCode = "refresh_reuse"
	auditErrSessionRevoked     auditErrorCode = "session_revoked"
	auditErrInvalidToken       auditErrorCode = "invalid_token"
	auditErrDeliveryFailed     auditErrorCode = "delivery_failed"
	auditErrPasswordPolicy     auditErrorCode = "password_policy"
	auditErrPasswordReuse      auditErrorCode = "password_reuse"
	auditErrUnavailable        auditErrorCode = "backend_unavailable"
	auditErrInternal           auditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		DeviceID:  clientDeviceFromContext(ctx),
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditCodeFor(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditCodeFor(err error) auditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrAccountPending):
		return auditErrAccountPending
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrLoginRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrChallengeNotFound):
		return auditErrChallengeNotFound
	case errors.Is(err, ErrOTPExpired):
		return auditErrOTPExpired
	case errors.Is(err, ErrOTPInvalid):
		return auditErrOTPInvalid
	case errors.Is(err, ErrOTPMaxAttempts):
		return auditErrOTPAttempts
	case errors.Is(err, ErrResendCooldown):
		return auditErrResendCooldown
	case errors.Is(err, ErrTOTPInvalid), errors.Is(err, ErrTOTPNotConfigured),
		errors.Is(err, ErrTOTPAlreadyEnabled):
		return auditErrTOTPInvalid
	case errors.Is(err, ErrTOTPReplay):
		return auditErrTOTPReplay
	case errors.Is(err, ErrBackupCodeInvalid),
		errors.Is(err, ErrBackupCodeUsed),
		errors.Is(err, ErrBackupCodesNotConfigured):
		return auditErrBackupCode
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrSessionRevoked):
		return auditErrSessionRevoked
	case errors.Is(err, ErrRefreshInvalid), errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrChannelUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
