package authcore_test

import (
	"context"
	"testing"

	"github.com/COMRADE-APP/authcore"
)

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.registerActive(t, "nancy@example.com", "original password 1")
	tokens := env.loginOTP(t, ctx, "nancy@example.com", "original password 1")

	if err := env.engine.RequestPasswordReset(ctx, "nancy@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	code := env.sender.waitCode(t)

	if err := env.engine.ConfirmPasswordReset(ctx, "nancy@example.com", code, "brand new password 2"); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}

	// Every pre-reset session is dead.
	if _, err := env.engine.ValidateAccess(ctx, tokens.AccessToken); err != authcore.ErrSessionRevoked {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}

	// Old password out, new password in.
	if _, err := env.engine.Login(ctx, "nancy@example.com", "original password 1"); err != authcore.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials with old password, got %v", err)
	}
	env.loginOTP(t, ctx, "nancy@example.com", "brand new password 2")
}

func TestPasswordResetUnknownAccountIsSilent(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.engine.RequestPasswordReset(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("unknown account must not error, got %v", err)
	}

	select {
	case msg := <-env.sender.messages:
		t.Fatalf("no code should ship for unknown accounts, got one for %s", msg.Recipient)
	default:
	}
}

func TestPasswordResetRejectsReusedPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.registerActive(t, "oscar@example.com", "original password 1")

	if err := env.engine.RequestPasswordReset(ctx, "oscar@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	code := env.sender.waitCode(t)

	if err := env.engine.ConfirmPasswordReset(ctx, "oscar@example.com", code, "original password 1"); err != authcore.ErrPasswordReuse {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
}

func TestPasswordResetBadCode(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.registerActive(t, "peggy@example.com", "original password 1")

	if err := env.engine.RequestPasswordReset(ctx, "peggy@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	env.sender.waitCode(t)

	if err := env.engine.ConfirmPasswordReset(ctx, "peggy@example.com", "000000", "brand new password 2"); err != authcore.ErrOTPInvalid {
		t.Fatalf("expected ErrOTPInvalid, got %v", err)
	}
}

func TestChangePasswordKeepsCurrentSession(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.registerActive(t, "quinn@example.com", "original password 1")
	first := env.loginOTP(t, ctx, "quinn@example.com", "original password 1")
	second := env.loginOTP(t, ctx, "quinn@example.com", "original password 1")

	access, err := env.engine.ValidateAccess(ctx, second.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}

	if err := env.engine.ChangePassword(ctx, access.UserID, "wrong old", "brand new password 2", access.SessionID); err != authcore.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := env.engine.ChangePassword(ctx, access.UserID, "original password 1", "original password 1", access.SessionID); err != authcore.ErrPasswordReuse {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
	if err := env.engine.ChangePassword(ctx, access.UserID, "original password 1", "short", access.SessionID); err != authcore.ErrPasswordPolicy {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}

	if err := env.engine.ChangePassword(ctx, access.UserID, "original password 1", "brand new password 2", access.SessionID); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// The calling session survives, the other dies.
	if _, err := env.engine.ValidateAccess(ctx, second.AccessToken); err != nil {
		t.Fatalf("keep-session should survive: %v", err)
	}
	if _, err := env.engine.ValidateAccess(ctx, first.AccessToken); err != authcore.ErrSessionRevoked {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}
