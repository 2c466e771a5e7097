package authcore

import (
	"strings"
	"testing"
	"time"
)

func newTestTOTP(algorithm string, digits int) *totpManager {
	return newTOTPManager(TOTPConfig{
		Issuer:    "Comrade",
		Digits:    digits,
		Period:    30,
		Algorithm: algorithm,
		Skew:      1,
	})
}

// RFC 6238 appendix B vectors, truncated to 6 digits. The SHA-1
// vectors use the ASCII secret "12345678901234567890".
func TestTOTPRFCVectors(t *testing.T) {
	secret := []byte("12345678901234567890")
	m := newTestTOTP("SHA1", 6)

	vectors := []struct {
		unix int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}

	for _, v := range vectors {
		if got := m.hotpCode(secret, v.unix/30); got != v.code {
			t.Errorf("t=%d: got %s, want %s", v.unix, got, v.code)
		}
	}
}

func TestTOTPVerifySkewWindow(t *testing.T) {
	secret := []byte("12345678901234567890")
	m := newTestTOTP("SHA1", 6)
	now := time.Unix(1111111109, 0)

	// Current window.
	counter, ok := m.VerifyCode(secret, "081804", now)
	if !ok || counter != now.Unix()/30 {
		t.Fatalf("current window: ok=%v counter=%d", ok, counter)
	}

	// Previous window, inside skew.
	prev := m.hotpCode(secret, now.Unix()/30-1)
	counter, ok = m.VerifyCode(secret, prev, now)
	if !ok || counter != now.Unix()/30-1 {
		t.Fatalf("previous window: ok=%v counter=%d", ok, counter)
	}

	// Two windows back, outside skew.
	stale := m.hotpCode(secret, now.Unix()/30-2)
	if _, ok := m.VerifyCode(secret, stale, now); ok {
		t.Fatal("code outside the skew window must be rejected")
	}

	if _, ok := m.VerifyCode(secret, "000000", now); ok {
		t.Fatal("wrong code accepted")
	}
	if _, ok := m.VerifyCode(secret, "08180", now); ok {
		t.Fatal("short code accepted")
	}
}

func TestTOTPProvisionURI(t *testing.T) {
	m := newTestTOTP("SHA1", 6)
	secret, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if len(secret) != totpSecretLength {
		t.Fatalf("expected %d byte secret, got %d", totpSecretLength, len(secret))
	}

	uri := m.ProvisionURI(secret, "alice@example.com")
	if !strings.HasPrefix(uri, "otpauth://totp/Comrade:alice%40example.com?") {
		t.Fatalf("unexpected URI %q", uri)
	}
	for _, want := range []string{"issuer=Comrade", "digits=6", "period=30", "algorithm=SHA1", "secret="} {
		if !strings.Contains(uri, want) {
			t.Errorf("URI missing %q: %s", want, uri)
		}
	}
	if strings.Contains(uri, "=\n") || strings.Contains(uri, "%3D") {
		t.Errorf("secret should be unpadded base32: %s", uri)
	}
}

func TestTOTPAlgorithms(t *testing.T) {
	secret := []byte("12345678901234567890123456789012")
	now := time.Now()

	for _, alg := range []string{"SHA1", "SHA256", "SHA512"} {
		m := newTestTOTP(alg, 6)
		code := m.hotpCode(secret, now.Unix()/30)
		if _, ok := m.VerifyCode(secret, code, now); !ok {
			t.Errorf("%s: self-generated code rejected", alg)
		}
	}
}
