// Package crypto implements the two envelope formats used by the vault.
//
// Strings (personal-data fields) use a key derived once from the master
// secret with a fixed application salt, so frequent field reads pay the
// KDF cost only at construction. Buffers (document blobs) re-derive a
// key per call from a fresh random salt, trading latency for
// per-document key diversity on the rarely-read, higher-value path.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/scrypt"
)

const (
	stringVersionPrefix = "v1:"
	masterSalt          = "datavault-master-salt-v1"

	saltSize  = 32
	nonceSize = 12
	tagSize   = 16

	scryptN = 32768
	scryptR = 8
	scryptP = 1
	keySize = 32

	secretKeyPrefix = "dv_sk_"
	clientIDPrefix  = "dv_ck_"
	tokenPrefix     = "dvt_"
)

var (
	// ErrFormat means a string envelope is missing its version prefix or
	// is not valid base64.
	ErrFormat = errors.New("invalid ciphertext format")
	// ErrAuth means a string envelope failed GCM authentication.
	ErrAuth = errors.New("ciphertext authentication failed")
	// ErrCorrupt means a buffer envelope is truncated or failed
	// authentication.
	ErrCorrupt = errors.New("buffer corrupted or tampered")
)

// Envelope encrypts and decrypts vault data under a master secret.
type Envelope struct {
	master    []byte
	stringKey []byte // scrypt(master, masterSalt), derived once
}

// NewEnvelope derives the string-path key from the master secret. The
// master secret must be at least 32 characters.
func NewEnvelope(masterKey string) (*Envelope, error) {
	if len(masterKey) < 32 {
		return nil, errors.New("master key must be at least 32 characters")
	}
	key, err := scrypt.Key([]byte(masterKey), []byte(masterSalt), scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("deriving string key: %w", err)
	}
	return &Envelope{master: []byte(masterKey), stringKey: key}, nil
}

// Encrypt seals plaintext into a "v1:"-prefixed string envelope:
// base64(iv(12) || tag(16) || ciphertext).
func (e *Envelope) Encrypt(plaintext string) (string, error) {
	gcm, err := newGCM(e.stringKey)
	if err != nil {
		return "", err
	}
	iv := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	combined := make([]byte, 0, nonceSize+tagSize+len(ct))
	combined = append(combined, iv...)
	combined = append(combined, tag...)
	combined = append(combined, ct...)
	return stringVersionPrefix + base64.StdEncoding.EncodeToString(combined), nil
}

// Decrypt opens a string envelope. Returns ErrFormat for shape
// problems, ErrAuth for tamper or wrong key.
func (e *Envelope) Decrypt(encrypted string) (string, error) {
	if !strings.HasPrefix(encrypted, stringVersionPrefix) {
		return "", ErrFormat
	}
	combined, err := base64.StdEncoding.DecodeString(encrypted[len(stringVersionPrefix):])
	if err != nil {
		return "", ErrFormat
	}
	if len(combined) < nonceSize+tagSize {
		return "", ErrFormat
	}
	iv := combined[:nonceSize]
	tag := combined[nonceSize : nonceSize+tagSize]
	ct := combined[nonceSize+tagSize:]

	gcm, err := newGCM(e.stringKey)
	if err != nil {
		return "", err
	}
	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrAuth
	}
	return string(plaintext), nil
}

// EncryptBuffer seals a document blob as
// salt(32) || iv(12) || tag(16) || ciphertext with a per-call key.
func (e *Envelope) EncryptBuffer(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	iv := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generating iv: %w", err)
	}

	key, err := scrypt.Key(e.master, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("deriving buffer key: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, saltSize+nonceSize+tagSize+len(ct))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return out, nil
}

// DecryptBuffer opens a buffer envelope, returning ErrCorrupt on
// truncation or auth failure.
func (e *Envelope) DecryptBuffer(encrypted []byte) ([]byte, error) {
	if len(encrypted) < saltSize+nonceSize+tagSize {
		return nil, ErrCorrupt
	}
	salt := encrypted[:saltSize]
	iv := encrypted[saltSize : saltSize+nonceSize]
	tag := encrypted[saltSize+nonceSize : saltSize+nonceSize+tagSize]
	ct := encrypted[saltSize+nonceSize+tagSize:]

	key, err := scrypt.Key(e.master, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("deriving buffer key: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrCorrupt
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// --- Credential generation ---

// GenerateSecretKey returns a new API secret key. The prefix is for
// operator legibility, not security.
func GenerateSecretKey() (string, error) {
	raw, err := randomBytes(32)
	if err != nil {
		return "", err
	}
	return secretKeyPrefix + hex.EncodeToString(raw), nil
}

// GenerateClientID returns a new public client identifier.
func GenerateClientID() (string, error) {
	raw, err := randomBytes(12)
	if err != nil {
		return "", err
	}
	return clientIDPrefix + hex.EncodeToString(raw), nil
}

// GenerateToken returns a new bearer access token.
func GenerateToken() (string, error) {
	raw, err := randomBytes(32)
	if err != nil {
		return "", err
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// GenerateAccessCode returns a single-use authorization code with 256
// bits of entropy.
func GenerateAccessCode() (string, error) {
	raw, err := randomBytes(32)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}

// --- API secret hashing (bcrypt path, distinct from the AEAD path) ---

const bcryptCost = 10

// HashSecretKey bcrypt-hashes an API secret key for storage.
func HashSecretKey(secretKey string) (string, error) {
	if !strings.HasPrefix(secretKey, secretKeyPrefix) {
		return "", errors.New("invalid secret key format")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secretKey), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing secret key: %w", err)
	}
	return string(hash), nil
}

// VerifySecretKey reports whether secretKey matches the stored hash.
func VerifySecretKey(secretKey, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secretKey)) == nil
}
