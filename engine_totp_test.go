package authcore_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/COMRADE-APP/authcore"
)

// totpCode derives the expected authenticator code for a secret, the
// same way a phone app would.
func totpCode(t *testing.T, secretBase32 string, at time.Time) string {
	t.Helper()

	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secretBase32)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(at.Unix()/30))

	mac := hmac.New(sha1.New, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", truncated%1000000)
}

func setupTOTPUser(t *testing.T, env *testEnv, email, pass string) (userID string, backupCodes []string) {
	t.Helper()
	userID, _, backupCodes = setupTOTPUserWithSecret(t, env, email, pass)
	return userID, backupCodes
}

func setupTOTPUserWithSecret(t *testing.T, env *testEnv, email, pass string) (userID, secretBase32 string, backupCodes []string) {
	t.Helper()
	ctx := context.Background()

	env.registerActive(t, email, pass)
	tokens := env.loginOTP(t, ctx, email, pass)

	access, err := env.engine.ValidateAccess(ctx, tokens.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}

	setup, err := env.engine.BeginTOTPSetup(ctx, access.UserID)
	if err != nil {
		t.Fatalf("BeginTOTPSetup: %v", err)
	}
	if !strings.HasPrefix(setup.ProvisioningURI, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning URI %q", setup.ProvisioningURI)
	}

	codes, err := env.engine.ConfirmTOTPSetup(ctx, access.UserID, totpCode(t, setup.SecretBase32, time.Now()))
	if err != nil {
		t.Fatalf("ConfirmTOTPSetup: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(codes))
	}
	return access.UserID, setup.SecretBase32, codes
}

func TestTOTPSetupWrongCode(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.registerActive(t, "ivan@example.com", "correct horse battery")
	tokens := env.loginOTP(t, ctx, "ivan@example.com", "correct horse battery")
	access, _ := env.engine.ValidateAccess(ctx, tokens.AccessToken)

	if _, err := env.engine.BeginTOTPSetup(ctx, access.UserID); err != nil {
		t.Fatalf("BeginTOTPSetup: %v", err)
	}
	if _, err := env.engine.ConfirmTOTPSetup(ctx, access.UserID, "000000"); err != authcore.ErrTOTPInvalid {
		t.Fatalf("expected ErrTOTPInvalid, got %v", err)
	}
}

func TestTOTPLoginReplayAndBackupFallback(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, backupCodes := setupTOTPUser(t, env, "judy@example.com", "correct horse battery")

	// With TOTP enabled, login demands an authenticator code and no
	// delivered challenge ships.
	outcome, err := env.engine.Login(ctx, "judy@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if outcome.NextStep != authcore.NextStepTOTP {
		t.Fatalf("expected totp step, got %s", outcome.NextStep)
	}

	// The confirmation burned the current window's counter, so the
	// same code is a replay.
	if _, err := env.engine.VerifyLogin2FA(ctx, "judy@example.com", "000000"); err != authcore.ErrTOTPInvalid {
		t.Fatalf("expected ErrTOTPInvalid, got %v", err)
	}

	verified, err := env.engine.VerifyLogin2FA(ctx, "judy@example.com", backupCodes[0])
	if err != nil {
		t.Fatalf("VerifyLogin2FA with backup code: %v", err)
	}
	if verified.NextStep != authcore.NextStepAuthenticated || verified.Tokens == nil {
		t.Fatalf("expected authenticated outcome, got %+v", verified)
	}
}

func TestBackupCodeSingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	userID, backupCodes := setupTOTPUser(t, env, "ken@example.com", "correct horse battery")

	if _, err := env.engine.Login(ctx, "ken@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := env.engine.VerifyLogin2FA(ctx, "ken@example.com", backupCodes[3]); err != nil {
		t.Fatalf("first consume: %v", err)
	}

	remaining, err := env.engine.RemainingBackupCodes(ctx, userID)
	if err != nil {
		t.Fatalf("RemainingBackupCodes: %v", err)
	}
	if remaining != 9 {
		t.Fatalf("expected 9 remaining, got %d", remaining)
	}

	// Same code again: rejected as spent, not as unknown.
	if _, err := env.engine.Login(ctx, "ken@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := env.engine.VerifyLogin2FA(ctx, "ken@example.com", backupCodes[3]); err != authcore.ErrBackupCodeUsed {
		t.Fatalf("expected ErrBackupCodeUsed, got %v", err)
	}

	// A code that was never issued stays indistinguishable from a typo.
	if _, err := env.engine.Login(ctx, "ken@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := env.engine.VerifyLogin2FA(ctx, "ken@example.com", "NEVERISSUED"); err != authcore.ErrBackupCodeInvalid {
		t.Fatalf("expected ErrBackupCodeInvalid, got %v", err)
	}
}

func TestRegenerateBackupCodesInvalidatesOldBatch(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	userID, oldCodes := setupTOTPUser(t, env, "leo@example.com", "correct horse battery")

	newCodes, err := env.engine.RegenerateBackupCodes(ctx, userID, "correct horse battery")
	if err != nil {
		t.Fatalf("RegenerateBackupCodes: %v", err)
	}
	if len(newCodes) != 10 {
		t.Fatalf("expected 10 codes, got %d", len(newCodes))
	}

	if _, err := env.engine.Login(ctx, "leo@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := env.engine.VerifyLogin2FA(ctx, "leo@example.com", oldCodes[0]); err != authcore.ErrBackupCodeInvalid {
		t.Fatalf("expected old batch rejected, got %v", err)
	}
	if _, err := env.engine.VerifyLogin2FA(ctx, "leo@example.com", newCodes[0]); err != nil {
		t.Fatalf("new batch should work: %v", err)
	}
}

func TestBeginTOTPSetupRejectsWhileEnabled(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	userID, _ := setupTOTPUser(t, env, "nina@example.com", "correct horse battery")

	if _, err := env.engine.BeginTOTPSetup(ctx, userID); err != authcore.ErrTOTPAlreadyEnabled {
		t.Fatalf("expected ErrTOTPAlreadyEnabled, got %v", err)
	}

	// Disable first, then enrollment opens again.
	if err := env.engine.DisableTOTP(ctx, userID, "correct horse battery"); err != nil {
		t.Fatalf("DisableTOTP: %v", err)
	}
	if _, err := env.engine.BeginTOTPSetup(ctx, userID); err != nil {
		t.Fatalf("BeginTOTPSetup after disable: %v", err)
	}
}

func TestRegenerateTOTPSecretDiscardsOldMaterial(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	userID, oldCodes := setupTOTPUser(t, env, "oscar@example.com", "correct horse battery")

	if _, err := env.engine.RegenerateTOTPSecret(ctx, userID, "wrong password"); err != authcore.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	setup, err := env.engine.RegenerateTOTPSecret(ctx, userID, "correct horse battery")
	if err != nil {
		t.Fatalf("RegenerateTOTPSecret: %v", err)
	}

	// The old batch dies with the old secret, and the replacement is
	// unconfirmed so login drops back to a delivered code.
	remaining, err := env.engine.RemainingBackupCodes(ctx, userID)
	if err != nil {
		t.Fatalf("RemainingBackupCodes: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected 0 backup codes, got %d", remaining)
	}
	outcome, err := env.engine.Login(ctx, "oscar@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if outcome.NextStep != authcore.NextStepOTP {
		t.Fatalf("expected otp step before confirmation, got %s", outcome.NextStep)
	}

	codes, err := env.engine.ConfirmTOTPSetup(ctx, userID, totpCode(t, setup.SecretBase32, time.Now()))
	if err != nil {
		t.Fatalf("ConfirmTOTPSetup: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected fresh batch of 10, got %d", len(codes))
	}
	for _, old := range oldCodes {
		for _, fresh := range codes {
			if old == fresh {
				t.Fatalf("old code %q survived regeneration", old)
			}
		}
	}
}

func TestDisableTOTPRestoresOTPLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	userID, _ := setupTOTPUser(t, env, "mallory@example.com", "correct horse battery")

	if err := env.engine.DisableTOTP(ctx, userID, "wrong password"); err != authcore.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := env.engine.DisableTOTP(ctx, userID, "correct horse battery"); err != nil {
		t.Fatalf("DisableTOTP: %v", err)
	}

	outcome, err := env.engine.Login(ctx, "mallory@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if outcome.NextStep != authcore.NextStepOTP {
		t.Fatalf("expected otp step after disable, got %s", outcome.NextStep)
	}

	remaining, err := env.engine.RemainingBackupCodes(ctx, userID)
	if err != nil {
		t.Fatalf("RemainingBackupCodes: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("backup codes should be gone, got %d", remaining)
	}
}

func TestTOTPSequentialReplayRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, secret, _ := setupTOTPUserWithSecret(t, env, "pam@example.com", "correct horse battery")

	// The confirmation burned the current window, so take the next
	// one; it sits inside the verification skew and is accepted once.
	code := totpCode(t, secret, time.Now().Add(30*time.Second))

	if _, err := env.engine.Login(ctx, "pam@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := env.engine.VerifyLogin2FA(ctx, "pam@example.com", code); err != nil {
		t.Fatalf("first use: %v", err)
	}

	if _, err := env.engine.Login(ctx, "pam@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := env.engine.VerifyLogin2FA(ctx, "pam@example.com", code); err != authcore.ErrTOTPReplay {
		t.Fatalf("expected ErrTOTPReplay, got %v", err)
	}
}

func TestTOTPParallelSameCodeSingleWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, secret, _ := setupTOTPUserWithSecret(t, env, "quinn@example.com", "correct horse battery")

	code := totpCode(t, secret, time.Now().Add(30*time.Second))
	if _, err := env.engine.Login(ctx, "quinn@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := env.engine.VerifyLogin2FA(ctx, "quinn@example.com", code)
			if err == nil && outcome.NextStep == authcore.NextStepAuthenticated {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Fatalf("%d parallel logins succeeded with one code, want 1", got)
	}
}

func TestBackupCodeParallelConsumeSingleWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	userID, backupCodes := setupTOTPUser(t, env, "rita@example.com", "correct horse battery")

	if _, err := env.engine.Login(ctx, "rita@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := env.engine.VerifyLogin2FA(ctx, "rita@example.com", backupCodes[0])
			if err == nil && outcome.NextStep == authcore.NextStepAuthenticated {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Fatalf("%d parallel consumers won the same backup code, want 1", got)
	}
	remaining, err := env.engine.RemainingBackupCodes(ctx, userID)
	if err != nil {
		t.Fatalf("RemainingBackupCodes: %v", err)
	}
	if remaining != 9 {
		t.Fatalf("expected 9 remaining, got %d", remaining)
	}
}
