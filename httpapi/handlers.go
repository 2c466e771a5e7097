package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/COMRADE-APP/authcore"
)

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return false
	}
	return true
}

type challengeBody struct {
	ChallengeID string    `json:"challenge_id"`
	Purpose     string    `json:"purpose"`
	Channel     string    `json:"channel"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type tokensBody struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	SessionID        string    `json:"session_id"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type outcomeBody struct {
	NextStep  string         `json:"next_step"`
	Challenge *challengeBody `json:"challenge,omitempty"`
	Tokens    *tokensBody    `json:"tokens,omitempty"`
}

func toChallengeBody(h *authcore.ChallengeHandle) *challengeBody {
	if h == nil {
		return nil
	}
	return &challengeBody{
		ChallengeID: h.ChallengeID,
		Purpose:     string(h.Purpose),
		Channel:     string(h.Channel),
		ExpiresAt:   h.ExpiresAt,
	}
}

func toTokensBody(t *authcore.TokenPair) *tokensBody {
	if t == nil {
		return nil
	}
	return &tokensBody{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		SessionID:        t.SessionID,
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshExpiresAt: t.RefreshExpiresAt,
	}
}

func toOutcomeBody(o *authcore.LoginOutcome) outcomeBody {
	return outcomeBody{
		NextStep:  string(o.NextStep),
		Challenge: toChallengeBody(o.Challenge),
		Tokens:    toTokensBody(o.Tokens),
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		OTPMethod string `json:"otp_method"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	outcome, err := s.engine.LoginWithChannel(r.Context(), req.Email, req.Password, authcore.Channel(req.OTPMethod))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeBody(outcome))
}

func (s *Server) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	outcome, err := s.engine.VerifyLogin(r.Context(), req.Email, req.OTP)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeBody(outcome))
}

func (s *Server) handleLogin2FA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	outcome, err := s.engine.VerifyLogin2FA(r.Context(), req.Email, req.OTP)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeBody(outcome))
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		OTPMethod  string `json:"otp_method"`
		ActionType string `json:"action_type"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	handle, err := s.engine.ResendChallenge(r.Context(), req.Email,
		authcore.Purpose(req.ActionType), authcore.Channel(req.OTPMethod))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChallengeBody(handle))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		Password string `json:"password"`
		Channel  string `json:"channel"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	handle, err := s.engine.Register(r.Context(), authcore.RegisterInput{
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		Channel:  authcore.Channel(req.Channel),
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChallengeBody(handle))
}

func (s *Server) handleRegisterVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	outcome, err := s.engine.VerifyRegistration(r.Context(), req.Email, req.OTP)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeBody(outcome))
}

func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.writeEngineError(w, err)
		return
	}
	// Same response whether or not the account exists.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		OTP         string `json:"otp"`
		NewPassword string `json:"new_password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.engine.ConfirmPasswordReset(r.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password_updated"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	tokens, err := s.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokensBody(tokens))
}

func (s *Server) handleDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.DeliveryStatus(r.Context(), chi.URLParam(r, "challengeID"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(state)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	access := accessFrom(r.Context())
	if err := s.engine.RevokeSession(r.Context(), access.SessionID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	access := accessFrom(r.Context())
	if err := s.engine.LogoutAll(r.Context(), access.UserID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	access := accessFrom(r.Context())
	if err := s.engine.ChangePassword(r.Context(), access.UserID, req.OldPassword, req.NewPassword, access.SessionID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password_updated"})
}

func (s *Server) handleTOTPSetup(w http.ResponseWriter, r *http.Request) {
	access := accessFrom(r.Context())
	setup, err := s.engine.BeginTOTPSetup(r.Context(), access.UserID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secret":           setup.SecretBase32,
		"provisioning_uri": setup.ProvisioningURI,
		"expires_at":       setup.ExpiresAt,
	})
}

func (s *Server) handleTOTPVerifySetup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	access := accessFrom(r.Context())
	codes, err := s.engine.ConfirmTOTPSetup(r.Context(), access.UserID, req.Code)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backup_codes": codes})
}

func (s *Server) handleTOTPRegenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	access := accessFrom(r.Context())
	setup, err := s.engine.RegenerateTOTPSecret(r.Context(), access.UserID, req.Password)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secret":           setup.SecretBase32,
		"provisioning_uri": setup.ProvisioningURI,
		"expires_at":       setup.ExpiresAt,
	})
}

func (s *Server) handleTOTPDisable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	access := accessFrom(r.Context())
	if err := s.engine.DisableTOTP(r.Context(), access.UserID, req.Password); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "totp_disabled"})
}

func (s *Server) handleBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	access := accessFrom(r.Context())
	codes, err := s.engine.RegenerateBackupCodes(r.Context(), access.UserID, req.Password)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backup_codes": codes})
}

type deviceBody struct {
	DeviceID   string    `json:"device_id"`
	TrustLevel string    `json:"trust_level"`
	RiskScore  int       `json:"risk_score"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	Active     bool      `json:"active"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	access := accessFrom(r.Context())
	devices, err := s.engine.ListDevices(r.Context(), access.UserID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	out := make([]deviceBody, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceBody{
			DeviceID:   d.DeviceID,
			TrustLevel: string(d.TrustLevel),
			RiskScore:  d.RiskScore,
			FirstSeen:  d.FirstSeen,
			LastSeen:   d.LastSeen,
			Active:     d.Active,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

func (s *Server) handleTrustDevice(w http.ResponseWriter, r *http.Request) {
	access := accessFrom(r.Context())
	if err := s.engine.TrustDevice(r.Context(), access.UserID, chi.URLParam(r, "deviceID")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "trusted"})
}

func (s *Server) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	access := accessFrom(r.Context())
	if err := s.engine.RevokeDevice(r.Context(), access.UserID, chi.URLParam(r, "deviceID")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
