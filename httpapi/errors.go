package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/COMRADE-APP/authcore"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writeEngineError maps engine sentinels to HTTP statuses and stable
// machine-readable codes. Unknown errors become opaque 500s.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authcore.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	case errors.Is(err, authcore.ErrAccountPending):
		writeError(w, http.StatusForbidden, "account_pending", "account pending verification")
	case errors.Is(err, authcore.ErrAccountDisabled):
		writeError(w, http.StatusForbidden, "account_disabled", "account disabled")
	case errors.Is(err, authcore.ErrLoginRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts, try later")
	case errors.Is(err, authcore.ErrUserExists):
		writeError(w, http.StatusConflict, "user_exists", "account already exists")
	case errors.Is(err, authcore.ErrChallengeNotFound):
		writeError(w, http.StatusNotFound, "challenge_not_found", "no pending verification")
	case errors.Is(err, authcore.ErrOTPExpired):
		writeError(w, http.StatusGone, "code_expired", "the code expired, request a new one")
	case errors.Is(err, authcore.ErrOTPInvalid):
		writeError(w, http.StatusUnauthorized, "code_invalid", "incorrect code")
	case errors.Is(err, authcore.ErrOTPMaxAttempts):
		writeError(w, http.StatusTooManyRequests, "code_attempts_exceeded", "too many incorrect codes, restart the flow")
	case errors.Is(err, authcore.ErrResendCooldown):
		writeError(w, http.StatusTooManyRequests, "resend_cooldown", "wait before requesting another code")
	case errors.Is(err, authcore.ErrTOTPNotConfigured):
		writeError(w, http.StatusConflict, "totp_not_configured", "authenticator not set up")
	case errors.Is(err, authcore.ErrTOTPAlreadyEnabled):
		writeError(w, http.StatusConflict, "totp_already_enabled", "disable the current authenticator first")
	case errors.Is(err, authcore.ErrTOTPInvalid):
		writeError(w, http.StatusUnauthorized, "totp_invalid", "incorrect authenticator code")
	case errors.Is(err, authcore.ErrTOTPReplay):
		writeError(w, http.StatusUnauthorized, "totp_replay", "authenticator code already used")
	case errors.Is(err, authcore.ErrBackupCodeInvalid),
		errors.Is(err, authcore.ErrBackupCodeUsed),
		errors.Is(err, authcore.ErrBackupCodesNotConfigured):
		writeError(w, http.StatusUnauthorized, "backup_code_rejected", "backup code rejected")
	case errors.Is(err, authcore.ErrRefreshReuse):
		writeError(w, http.StatusUnauthorized, "refresh_reuse", "session revoked, sign in again")
	case errors.Is(err, authcore.ErrRefreshInvalid),
		errors.Is(err, authcore.ErrTokenInvalid),
		errors.Is(err, authcore.ErrSessionRevoked):
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
	case errors.Is(err, authcore.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, "device_not_found", "unknown device")
	case errors.Is(err, authcore.ErrPasswordPolicy):
		writeError(w, http.StatusUnprocessableEntity, "password_policy", "password does not meet requirements")
	case errors.Is(err, authcore.ErrPasswordReuse):
		writeError(w, http.StatusUnprocessableEntity, "password_reuse", "choose a password you have not used")
	case errors.Is(err, authcore.ErrChannelUnavailable):
		writeError(w, http.StatusConflict, "channel_unavailable", "no delivery address for the requested channel")
	case errors.Is(err, authcore.ErrDeliveryFailed):
		writeError(w, http.StatusServiceUnavailable, "delivery_failed", "could not send the code, try again")
	case errors.Is(err, authcore.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", "temporarily unavailable")
	default:
		s.logger.Error("unhandled engine error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
