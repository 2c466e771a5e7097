package authcore

import (
	"context"
	"time"
)

// Purpose names the flow a challenge belongs to. One challenge may be
// live per (user, purpose) at a time.
type Purpose string

const (
	// PurposeLogin covers the post-password OTP or 2FA step of login.
	PurposeLogin Purpose = "login"
	// PurposeRegistration covers new-account email/phone verification.
	PurposeRegistration Purpose = "registration"
	// PurposePasswordReset covers the reset-code step of password recovery.
	PurposePasswordReset Purpose = "password_reset"
	// PurposeTOTPSetup covers the confirmation window of TOTP enrollment.
	PurposeTOTPSetup Purpose = "totp_setup"
)

func (p Purpose) valid() bool {
	switch p {
	case PurposeLogin, PurposeRegistration, PurposePasswordReset, PurposeTOTPSetup:
		return true
	}
	return false
}

// Channel is the out-of-band delivery channel for one-time codes.
type Channel string

const (
	// ChannelEmail delivers codes over SMTP.
	ChannelEmail Channel = "email"
	// ChannelSMS delivers codes over an SMS gateway.
	ChannelSMS Channel = "sms"
)

func (c Channel) valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// AccountStatus is the lifecycle state of an identity.
type AccountStatus uint8

const (
	// AccountActive may authenticate normally.
	AccountActive AccountStatus = iota
	// AccountPendingVerification was registered but has not verified its
	// delivery channel yet.
	AccountPendingVerification
	// AccountDisabled is blocked from every flow.
	AccountDisabled
)

// Identity is the account record served by [UserDirectory]. PasswordHash
// is a PHC-encoded argon2id string; the plaintext never reaches storage.
type Identity struct {
	UserID           string
	Email            string
	Phone            string
	PasswordHash     string
	PreferredChannel Channel
	TOTPEnabled      bool
	Status           AccountStatus
}

// TOTPRecord carries the stored TOTP secret and its enrollment state.
// LastUsedCounter is the last accepted time-step counter, kept for
// replay rejection.
type TOTPRecord struct {
	Secret          []byte
	Enabled         bool
	ConfirmedAt     time.Time
	LastUsedCounter int64
}

// BackupCodeRecord stores the salted SHA-256 hash of one backup code.
// The plaintext is never persisted.
type BackupCodeRecord struct {
	Hash [32]byte
}

// CreateIdentityInput is the input for [UserDirectory.CreateIdentity].
type CreateIdentityInput struct {
	Email            string
	Phone            string
	PasswordHash     string
	PreferredChannel Channel
	Status           AccountStatus
}

// UserDirectory is the interface callers implement to integrate the
// engine with their identity database. Implementations return
// [ErrUserNotFound] for unknown users. ConsumeBackupCode and
// ClaimTOTPCounter must be compare-and-set: exactly one concurrent
// consumer of the same code or counter may receive true.
// ConsumeBackupCode keeps spent digests and reports a resubmission as
// [ErrBackupCodeUsed]; a user with no batch at all gets
// [ErrBackupCodesNotConfigured].
type UserDirectory interface {
	GetIdentityByEmail(ctx context.Context, email string) (Identity, error)
	GetIdentityByID(ctx context.Context, userID string) (Identity, error)
	CreateIdentity(ctx context.Context, input CreateIdentityInput) (Identity, error)
	ActivateIdentity(ctx context.Context, userID string) error
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error

	GetTOTPSecret(ctx context.Context, userID string) (*TOTPRecord, error)
	SaveTOTPSecret(ctx context.Context, userID string, secret []byte) error
	EnableTOTP(ctx context.Context, userID string) error
	DisableTOTP(ctx context.Context, userID string) error
	ClaimTOTPCounter(ctx context.Context, userID string, counter int64) (bool, error)

	ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCodeRecord) error
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
	CountUnusedBackupCodes(ctx context.Context, userID string) (int, error)
}

// ChallengeHandle is the caller-visible reference to an issued challenge.
// It never carries the code or its hash.
type ChallengeHandle struct {
	ChallengeID string
	Purpose     Purpose
	Channel     Channel
	ExpiresAt   time.Time
}

// NextStep is the typed transition result of a verifying flow. The
// transport layer interprets it to decide what to ask the user next; the
// engine never navigates.
type NextStep string

const (
	// NextStepOTP means a one-time code was dispatched and must be verified.
	NextStepOTP NextStep = "otp"
	// NextStepTOTP means the user must submit an authenticator code or
	// backup code.
	NextStepTOTP NextStep = "totp"
	// NextStepAuthenticated means a session was issued.
	NextStepAuthenticated NextStep = "authenticated"
	// NextStepProfileSetup means registration verified and profile
	// completion is pending.
	NextStepProfileSetup NextStep = "profile_setup"
)

// TokenPair is an issued access/refresh pair.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	SessionID        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginOutcome is returned by [Engine.Login] and the verify methods.
// Tokens is non-nil only when NextStep is [NextStepAuthenticated].
type LoginOutcome struct {
	NextStep  NextStep
	Challenge *ChallengeHandle
	Tokens    *TokenPair
}

// RegisterInput is the input for [Engine.Register].
type RegisterInput struct {
	Email    string
	Phone    string
	Password string
	Channel  Channel
}

// TOTPSetup is returned by [Engine.BeginTOTPSetup]: the base32 secret and
// the otpauth:// URI for authenticator-app provisioning. Both are shown
// to the user once and not retrievable later.
type TOTPSetup struct {
	SecretBase32    string
	ProvisioningURI string
	ExpiresAt       time.Time
}

// TrustLevel grades a device.
type TrustLevel string

const (
	// TrustUntrusted is the level of revoked devices.
	TrustUntrusted TrustLevel = "untrusted"
	// TrustPending is the level of newly seen devices.
	TrustPending TrustLevel = "pending"
	// TrustTrusted is reached only by explicit user action.
	TrustTrusted TrustLevel = "trusted"
	// TrustSuspicious is set when the risk score crosses the suspicion
	// threshold.
	TrustSuspicious TrustLevel = "suspicious"
)

// Device is a recognized client device for a user.
type Device struct {
	DeviceID    string
	UserID      string
	Fingerprint string
	TrustLevel  TrustLevel
	RiskScore   int
	FirstSeen   time.Time
	LastSeen    time.Time
	LastIP      string
	Active      bool
}

// AccessResult is returned by [Engine.ValidateAccess].
type AccessResult struct {
	UserID    string
	SessionID string
	DeviceID  string
}

// DeliveryState is the pollable status of an outbound code delivery.
type DeliveryState string

const (
	// DeliveryPending means the send is queued or retrying.
	DeliveryPending DeliveryState = "pending"
	// DeliverySent means the gateway accepted the message.
	DeliverySent DeliveryState = "sent"
	// DeliveryFailed means retries were exhausted.
	DeliveryFailed DeliveryState = "failed"
)
