// Package internaldefs carries the metric definitions shared by every
// exporter so names and help strings stay identical across formats.
package internaldefs

import (
	"github.com/COMRADE-APP/authcore"
)

// Source is the engine surface exporters read from.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// Def describes one exported counter.
type Def struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// Counters lists every exported counter in a stable order.
var Counters = []Def{
	{authcore.MetricLoginSuccess, "authcore_login_success_total", "Completed logins."},
	{authcore.MetricLoginFailure, "authcore_login_failure_total", "Rejected password submissions."},
	{authcore.MetricLoginRateLimited, "authcore_login_rate_limited_total", "Logins rejected by the attempt budget."},
	{authcore.MetricChallengeIssued, "authcore_challenge_issued_total", "One-time code challenges created."},
	{authcore.MetricChallengeResent, "authcore_challenge_resent_total", "Challenge codes regenerated and redelivered."},
	{authcore.MetricChallengeResendBlocked, "authcore_challenge_resend_blocked_total", "Resends rejected by the cooldown."},
	{authcore.MetricOTPSuccess, "authcore_otp_success_total", "One-time codes accepted."},
	{authcore.MetricOTPFailure, "authcore_otp_failure_total", "One-time codes rejected."},
	{authcore.MetricOTPExpired, "authcore_otp_expired_total", "One-time codes submitted after expiry."},
	{authcore.MetricOTPAttemptsExceeded, "authcore_otp_attempts_exceeded_total", "Challenges invalidated by attempt exhaustion."},
	{authcore.MetricTOTPSuccess, "authcore_totp_success_total", "Authenticator codes accepted."},
	{authcore.MetricTOTPFailure, "authcore_totp_failure_total", "Authenticator codes rejected."},
	{authcore.MetricTOTPReplay, "authcore_totp_replay_total", "Authenticator codes rejected as replays."},
	{authcore.MetricBackupCodeUsed, "authcore_backup_code_used_total", "Backup codes consumed."},
	{authcore.MetricBackupCodeFailed, "authcore_backup_code_failed_total", "Backup codes rejected."},
	{authcore.MetricBackupCodeRegenerated, "authcore_backup_code_regenerated_total", "Backup code batches minted."},
	{authcore.MetricRegistrationStarted, "authcore_registration_started_total", "Registrations opened."},
	{authcore.MetricRegistrationVerified, "authcore_registration_verified_total", "Registrations verified and activated."},
	{authcore.MetricPasswordResetRequest, "authcore_password_reset_request_total", "Password reset requests received."},
	{authcore.MetricPasswordResetSuccess, "authcore_password_reset_success_total", "Password resets completed."},
	{authcore.MetricPasswordResetFailure, "authcore_password_reset_failure_total", "Password reset confirmations rejected."},
	{authcore.MetricPasswordChangeSuccess, "authcore_password_change_success_total", "Password changes completed."},
	{authcore.MetricPasswordChangeFailure, "authcore_password_change_failure_total", "Password changes rejected."},
	{authcore.MetricDeviceNew, "authcore_device_new_total", "Previously unseen devices recorded."},
	{authcore.MetricDeviceSuspicious, "authcore_device_suspicious_total", "Devices crossing the suspicion threshold."},
	{authcore.MetricDeviceTrusted, "authcore_device_trusted_total", "Devices explicitly trusted."},
	{authcore.MetricDeviceRevoked, "authcore_device_revoked_total", "Devices revoked."},
	{authcore.MetricSessionCreated, "authcore_session_created_total", "Sessions issued."},
	{authcore.MetricSessionRevoked, "authcore_session_revoked_total", "Session revocation sweeps."},
	{authcore.MetricRefreshSuccess, "authcore_refresh_success_total", "Refresh rotations completed."},
	{authcore.MetricRefreshFailure, "authcore_refresh_failure_total", "Refresh rotations rejected."},
	{authcore.MetricRefreshReuseDetected, "authcore_refresh_reuse_detected_total", "Spent refresh tokens presented."},
	{authcore.MetricDeliveryEnqueued, "authcore_delivery_enqueued_total", "Code deliveries queued."},
	{authcore.MetricDeliverySent, "authcore_delivery_sent_total", "Code deliveries accepted by a gateway."},
	{authcore.MetricDeliveryFailed, "authcore_delivery_failed_total", "Code deliveries that exhausted retries."},
	{authcore.MetricValidateSuccess, "authcore_validate_success_total", "Access tokens validated."},
	{authcore.MetricValidateFailure, "authcore_validate_failure_total", "Access tokens rejected."},
}

const (
	// AuditDroppedName counts audit events discarded by a full buffer.
	AuditDroppedName = "authcore_audit_dropped_total"
	// AuditDroppedHelp is its help string.
	AuditDroppedHelp = "Audit events discarded because the dispatcher buffer was full."

	// ValidateLatencyName is the access-validation latency histogram.
	ValidateLatencyName = "authcore_validate_latency_ms"
	// ValidateLatencyHelp is its help string.
	ValidateLatencyHelp = "Access validation latency in milliseconds."
)
