package authcore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const totpSecretLength = 20

var totpBase32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// totpManager implements RFC 6238 time-based one-time passwords. All
// verification is constant-time over the candidate codes in the
// configured skew window.
type totpManager struct {
	issuer    string
	digits    int
	period    int64
	algorithm string
	skew      int
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	return &totpManager{
		issuer:    cfg.Issuer,
		digits:    cfg.Digits,
		period:    int64(cfg.Period),
		algorithm: strings.ToUpper(cfg.Algorithm),
		skew:      cfg.Skew,
	}
}

func (m *totpManager) GenerateSecret() ([]byte, error) {
	secret := make([]byte, totpSecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	return secret, nil
}

func (m *totpManager) SecretBase32(secret []byte) string {
	return totpBase32.EncodeToString(secret)
}

// ProvisionURI builds the otpauth:// URI consumed by authenticator
// apps when scanning the enrollment QR code.
func (m *totpManager) ProvisionURI(secret []byte, accountName string) string {
	label := url.PathEscape(m.issuer) + ":" + url.PathEscape(accountName)

	params := url.Values{}
	params.Set("secret", m.SecretBase32(secret))
	params.Set("issuer", m.issuer)
	params.Set("algorithm", m.algorithm)
	params.Set("digits", strconv.Itoa(m.digits))
	params.Set("period", strconv.FormatInt(m.period, 10))

	return "otpauth://totp/" + label + "?" + params.Encode()
}

// VerifyCode checks a submitted code against the current counter and
// its skew neighbours. On a match it returns the matched counter so
// the caller can persist it and reject replays of the same window.
func (m *totpManager) VerifyCode(secret []byte, code string, at time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != m.digits {
		return 0, false
	}

	counter := at.Unix() / m.period

	matched := int64(-1)
	ok := false
	for offset := -m.skew; offset <= m.skew; offset++ {
		c := counter + int64(offset)
		if c < 0 {
			continue
		}
		candidate := m.hotpCode(secret, c)
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 && !ok {
			matched = c
			ok = true
		}
	}
	return matched, ok
}

func (m *totpManager) hotpCode(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(m.hmacFunc(), secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < m.digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", m.digits, truncated%mod)
}

func (m *totpManager) hmacFunc() func() hash.Hash {
	switch m.algorithm {
	case "SHA256":
		return sha256.New
	case "SHA512":
		return sha512.New
	default:
		return sha1.New
	}
}
