package session

import (
	"crypto/sha256"
	"testing"
)

// FuzzDecode verifies the binary decoder never panics on arbitrary input
// and that a valid encoding round-trips.
func FuzzDecode(f *testing.F) {
	seed := &Session{
		UserID:      "user-1",
		DeviceID:    "dev-1",
		RefreshHash: sha256.Sum256([]byte("seed")),
		CreatedAt:   1700000000,
		ExpiresAt:   1700003600,
	}
	if data, err := Encode(seed); err == nil {
		f.Add(data)
	}
	f.Add([]byte{})
	f.Add([]byte{1})
	f.Add([]byte{1, 255})
	f.Add([]byte{99, 0, 0})

	f.Fuzz(func(t *testing.T, data []byte) {
		sess, err := Decode(data)
		if err != nil {
			return
		}
		reencoded, err := Encode(sess)
		if err != nil {
			t.Fatalf("decoded session failed to re-encode: %v", err)
		}
		again, err := Decode(reencoded)
		if err != nil {
			t.Fatalf("re-encoded session failed to decode: %v", err)
		}
		if again.UserID != sess.UserID || again.ExpiresAt != sess.ExpiresAt {
			t.Fatal("round trip mismatch")
		}
	})
}
