package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

const testMasterKey = "0123456789abcdef0123456789abcdef"

func testEnvelope(t *testing.T) *Envelope {
	t.Helper()
	env, err := NewEnvelope(testMasterKey)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	return env
}

func TestNewEnvelopeShortKey(t *testing.T) {
	if _, err := NewEnvelope("too-short"); err == nil {
		t.Error("expected error for short master key")
	}
}

func TestStringRoundTrip(t *testing.T) {
	env := testEnvelope(t)
	for _, plaintext := range []string{"22212345678", "", "Lagos, Nigeria", "1990-04-01"} {
		ct, err := env.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", plaintext, err)
		}
		if !strings.HasPrefix(ct, "v1:") {
			t.Errorf("ciphertext missing v1: prefix: %q", ct)
		}
		got, err := env.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip: got %q want %q", got, plaintext)
		}
	}
}

func TestStringEncryptNondeterministic(t *testing.T) {
	env := testEnvelope(t)
	a, _ := env.Encrypt("same value")
	b, _ := env.Encrypt("same value")
	if a == b {
		t.Error("two encryptions of the same value should differ (random iv)")
	}
}

func TestStringTamperDetection(t *testing.T) {
	env := testEnvelope(t)
	ct, _ := env.Encrypt("sensitive")

	raw, err := base64.StdEncoding.DecodeString(ct[3:])
	if err != nil {
		t.Fatalf("decoding ciphertext: %v", err)
	}
	// Flip one byte at every position; decryption must fail with ErrAuth.
	for i := range raw {
		tampered := make([]byte, len(raw))
		copy(tampered, raw)
		tampered[i] ^= 0xff
		_, err := env.Decrypt("v1:" + base64.StdEncoding.EncodeToString(tampered))
		if !errors.Is(err, ErrAuth) {
			t.Fatalf("byte %d: expected ErrAuth, got %v", i, err)
		}
	}
}

func TestStringFormatErrors(t *testing.T) {
	env := testEnvelope(t)
	cases := []string{
		"no-version-prefix",
		"v1:!!!not-base64!!!",
		"v1:" + base64.StdEncoding.EncodeToString([]byte("short")),
	}
	for _, c := range cases {
		if _, err := env.Decrypt(c); !errors.Is(err, ErrFormat) {
			t.Errorf("Decrypt(%q): expected ErrFormat, got %v", c, err)
		}
	}
}

func TestStringWrongKey(t *testing.T) {
	env := testEnvelope(t)
	other, _ := NewEnvelope("ffffffffffffffffffffffffffffffff")

	ct, _ := env.Encrypt("secret")
	if _, err := other.Decrypt(ct); !errors.Is(err, ErrAuth) {
		t.Errorf("expected ErrAuth with wrong key, got %v", err)
	}
}

func TestBufferRoundTrip(t *testing.T) {
	env := testEnvelope(t)
	blob := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 256)

	ct, err := env.EncryptBuffer(blob)
	if err != nil {
		t.Fatalf("EncryptBuffer failed: %v", err)
	}
	if bytes.Contains(ct, blob[:16]) {
		t.Error("ciphertext should not contain plaintext")
	}

	got, err := env.DecryptBuffer(ct)
	if err != nil {
		t.Fatalf("DecryptBuffer failed: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Error("buffer round trip mismatch")
	}
}

func TestBufferFreshSaltPerCall(t *testing.T) {
	env := testEnvelope(t)
	blob := []byte("document contents")
	a, _ := env.EncryptBuffer(blob)
	b, _ := env.EncryptBuffer(blob)
	if bytes.Equal(a[:saltSize], b[:saltSize]) {
		t.Error("each buffer encryption must draw a fresh salt")
	}
}

func TestBufferCorruption(t *testing.T) {
	env := testEnvelope(t)
	ct, _ := env.EncryptBuffer([]byte("important document"))

	// Tamper with the ciphertext region.
	tampered := make([]byte, len(ct))
	copy(tampered, ct)
	tampered[len(tampered)-1] ^= 0x01
	if _, err := env.DecryptBuffer(tampered); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt on tamper, got %v", err)
	}

	// Truncated input.
	if _, err := env.DecryptBuffer(ct[:saltSize+nonceSize]); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt on truncation, got %v", err)
	}
}

func TestGenerators(t *testing.T) {
	sk, err := GenerateSecretKey()
	if err != nil || !strings.HasPrefix(sk, "dv_sk_") {
		t.Errorf("GenerateSecretKey: %q, %v", sk, err)
	}
	ck, err := GenerateClientID()
	if err != nil || !strings.HasPrefix(ck, "dv_ck_") {
		t.Errorf("GenerateClientID: %q, %v", ck, err)
	}
	tok, err := GenerateToken()
	if err != nil || !strings.HasPrefix(tok, "dvt_") {
		t.Errorf("GenerateToken: %q, %v", tok, err)
	}
	code, err := GenerateAccessCode()
	if err != nil || len(code) != 64 {
		t.Errorf("GenerateAccessCode: %q, %v", code, err)
	}

	code2, _ := GenerateAccessCode()
	if code == code2 {
		t.Error("access codes must be unique")
	}
}

func TestSecretKeyHashing(t *testing.T) {
	sk, _ := GenerateSecretKey()

	hash, err := HashSecretKey(sk)
	if err != nil {
		t.Fatalf("HashSecretKey failed: %v", err)
	}
	if hash == sk {
		t.Error("hash must not equal the plaintext secret")
	}
	if !VerifySecretKey(sk, hash) {
		t.Error("VerifySecretKey should accept the correct secret")
	}
	if VerifySecretKey("dv_sk_wrong", hash) {
		t.Error("VerifySecretKey should reject a wrong secret")
	}
}

func TestHashSecretKeyRejectsBadPrefix(t *testing.T) {
	if _, err := HashSecretKey("not-a-secret-key"); err == nil {
		t.Error("expected error for unprefixed secret key")
	}
}
