package authcore

import "errors"

var (
	// ErrInvalidCredentials is returned when the email/password pair does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned by [UserDirectory] implementations for unknown users.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when registration targets an email already in use.
	ErrUserExists = errors.New("user already exists")
	// ErrAccountPending is returned when a pending-verification account attempts login.
	ErrAccountPending = errors.New("account pending verification")
	// ErrAccountDisabled is returned when a disabled account attempts any flow.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrLoginRateLimited is returned when the identifier or IP exceeded the failed-login budget.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrChallengeNotFound is returned when no live challenge exists for the
	// (user, purpose) pair, including resubmission of an already-consumed one.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrOTPExpired is returned when the challenge outlived its TTL.
	ErrOTPExpired = errors.New("otp expired")
	// ErrOTPInvalid is returned when the submitted code does not match the challenge.
	ErrOTPInvalid = errors.New("otp invalid")
	// ErrOTPMaxAttempts is returned when the challenge attempt budget is
	// exhausted. The challenge is invalidated; the account is not locked.
	ErrOTPMaxAttempts = errors.New("otp max attempts exceeded")
	// ErrResendCooldown is returned when a resend arrives before the cooldown
	// elapsed. No new code is generated.
	ErrResendCooldown = errors.New("resend cooldown active")
	// ErrTOTPNotConfigured is returned when a TOTP operation targets a user
	// without an enrolled secret.
	ErrTOTPNotConfigured = errors.New("totp not configured")
	// ErrTOTPAlreadyEnabled is returned when enrollment starts for a user
	// whose authenticator is active. Disable it first.
	ErrTOTPAlreadyEnabled = errors.New("totp already enabled")
	// ErrTOTPInvalid is returned when the submitted authenticator code is wrong.
	ErrTOTPInvalid = errors.New("totp invalid")
	// ErrTOTPReplay is returned when an already-accepted code is submitted
	// again within the same time step.
	ErrTOTPReplay = errors.New("totp replay detected")
	// ErrBackupCodeInvalid is returned when the submitted backup code matches
	// no unused code.
	ErrBackupCodeInvalid = errors.New("invalid backup code")
	// ErrBackupCodeUsed is returned when the submitted backup code was
	// already consumed.
	ErrBackupCodeUsed = errors.New("backup code already used")
	// ErrBackupCodesNotConfigured is returned when no backup batch exists.
	ErrBackupCodesNotConfigured = errors.New("backup codes not configured")
	// ErrRefreshInvalid is returned for malformed or unknown refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is returned when an already-rotated refresh token is
	// presented. All sessions for the (user, device) family are revoked.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrSessionRevoked is returned when an access token references a
	// revoked or expired session.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrTokenInvalid is returned for malformed or badly signed access tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrDeliveryFailed is returned when outbound code delivery exhausted
	// its retries.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrDeviceNotFound is returned when a device operation targets an
	// unknown device ID.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrPasswordPolicy is returned when a new password violates policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a password change reuses the
	// current password.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrChannelUnavailable is returned when the requested delivery channel
	// has no recipient address on the identity.
	ErrChannelUnavailable = errors.New("delivery channel unavailable")
	// ErrStoreUnavailable wraps Redis transport failures.
	ErrStoreUnavailable = errors.New("state store unavailable")
	// ErrEngineNotReady is returned when an Engine method is called on a
	// nil or incompletely built engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
