package password

import (
	"strings"
	"testing"
)

func testConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestNewHasherRejectsWeakParameters(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"memory", func(c *Config) { c.Memory = 1024 }},
		{"time", func(c *Config) { c.Time = 0 }},
		{"parallelism", func(c *Config) { c.Parallelism = 0 }},
		{"salt", func(c *Config) { c.SaltLength = 8 }},
		{"key", func(c *Config) { c.KeyLength = 8 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			if _, err := NewHasher(cfg); err == nil {
				t.Fatalf("expected error for weak %s parameter", tc.name)
			}
		})
	}
}

func TestHashAndVerifyRoundTrip(t *testing.T) {
	h, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	encoded, err := h.Hash("correct-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected hash prefix: %s", encoded)
	}

	ok, err := h.Verify("correct-password-123", encoded)
	if err != nil || !ok {
		t.Fatalf("expected verify success, got ok=%v err=%v", ok, err)
	}

	ok, err = h.Verify("wrong-password-1234", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("expected verify failure for wrong password")
	}
}

func TestHashRejectsShortPasswords(t *testing.T) {
	h, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	if _, err := h.Hash("short"); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestHashProducesUniqueSalts(t *testing.T) {
	h, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	first, err := h.Hash("correct-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	second, err := h.Hash("correct-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct hashes for same password")
	}
}

func TestNeedsUpgradeDetectsWeakerHash(t *testing.T) {
	weak, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	encoded, err := weak.Hash("correct-password-123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	strongCfg := testConfig()
	strongCfg.Memory = 64 * 1024
	strong, err := NewHasher(strongCfg)
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	upgrade, err := strong.NeedsUpgrade(encoded)
	if err != nil {
		t.Fatalf("NeedsUpgrade failed: %v", err)
	}
	if !upgrade {
		t.Fatal("expected upgrade for weaker stored hash")
	}

	upgrade, err = weak.NeedsUpgrade(encoded)
	if err != nil {
		t.Fatalf("NeedsUpgrade failed: %v", err)
	}
	if upgrade {
		t.Fatal("expected no upgrade for matching parameters")
	}
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	h, err := NewHasher(testConfig())
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}

	for _, encoded := range []string{
		"",
		"plain",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdA$aGFzaA",
	} {
		if _, err := h.Verify("correct-password-123", encoded); err == nil {
			t.Fatalf("expected parse error for %q", encoded)
		}
	}
}
