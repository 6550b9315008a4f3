// Package crypto implements Component B: symmetric encryption of sensitive
// store columns, PKCE generation, and password-based backup encryption.
// The on-disk key carries owner-only permissions; losing it renders
// encrypted columns unrecoverable by design.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"mcpbroker/internal/domain"
)

const (
	keySize         = 32 // AES-256
	nonceSize       = 12
	tagSize         = 16
	hashIterations  = 10000
	hashSaltSize    = 64
	backupIterations = 100000
	backupSaltSize  = 32
	backupIVSize    = 16
)

// Service holds the active encryption key in memory. It is safe for
// concurrent use: Encrypt/Decrypt/Key/KeyVersion take a read lock, and
// Swap (used by oauthgov's key rotation) takes the write lock so every
// holder of this Service observes the new key atomically.
type Service struct {
	mu      sync.RWMutex
	keyPath string
	key     []byte
	version int
}

// Load reads the 32-byte raw key from keyPath, creating it with
// owner-only permissions if absent.
func Load(keyPath string) (*Service, error) {
	data, err := os.ReadFile(keyPath)
	if err == nil {
		if len(data) != keySize {
			return nil, &domain.CryptoError{Message: "key file has unexpected length", Cause: err}
		}
		return &Service{keyPath: keyPath, key: data, version: 1}, nil
	}
	if !os.IsNotExist(err) {
		return nil, &domain.CryptoError{Message: "failed to read key file", Cause: err}
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, &domain.CryptoError{Message: "failed to generate key", Cause: err}
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, &domain.CryptoError{Message: "failed to create key directory", Cause: err}
	}
	if err := os.WriteFile(keyPath, key, 0o600); err != nil {
		return nil, &domain.CryptoError{Message: "failed to write key file", Cause: err}
	}
	return &Service{keyPath: keyPath, key: key, version: 1}, nil
}

// Key returns the active raw key. Used only by oauthgov.RotateKey to
// snapshot the previous key before calling Swap.
func (s *Service) Key() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// KeyVersion returns the monotonically increasing key version.
func (s *Service) KeyVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Encrypt implements AES-256-GCM with a fresh 12-byte nonce per call.
// Output is base64(nonce || tag || ciphertext). Empty string encrypts to
// empty string.
func (s *Service) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	s.mu.RLock()
	key := s.key
	s.mu.RUnlock()
	return encryptWithKey(key, plaintext)
}

// Decrypt fails with CryptoError on tag mismatch or malformed input; the
// caller MUST propagate it, never substitute a default.
func (s *Service) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	s.mu.RLock()
	key := s.key
	s.mu.RUnlock()
	return decryptWithKey(key, ciphertext)
}

func encryptWithKey(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", &domain.CryptoError{Message: "failed to create cipher", Cause: err}
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return "", &domain.CryptoError{Message: "failed to create gcm", Cause: err}
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", &domain.CryptoError{Message: "failed to generate nonce", Cause: err}
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	// Seal appends the tag to the ciphertext; split it out so the wire
	// format matches's nonce || tag || ciphertext exactly.
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]
	out := make([]byte, 0, nonceSize+tagSize+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

func decryptWithKey(key []byte, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &domain.CryptoError{Message: "malformed ciphertext encoding", Cause: err}
	}
	if len(raw) < nonceSize+tagSize {
		return "", &domain.CryptoError{Message: "ciphertext too short"}
	}
	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	ct := raw[nonceSize+tagSize:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", &domain.CryptoError{Message: "failed to create cipher", Cause: err}
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return "", &domain.CryptoError{Message: "failed to create gcm", Cause: err}
	}
	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &domain.CryptoError{Message: "decryption failed: tag mismatch", Cause: err}
	}
	return string(plain), nil
}

// Hash implements PBKDF2-SHA512 password hashing with a 64-byte salt.
// Returns base64(salt || digest).
func (s *Service) Hash(data string) (string, error) {
	salt := make([]byte, hashSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", &domain.CryptoError{Message: "failed to generate salt", Cause: err}
	}
	digest := pbkdf2.Key([]byte(data), salt, hashIterations, sha512.Size, sha512.New)
	out := append(append([]byte{}, salt...), digest...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// VerifyHash performs a constant-time comparison of data against a digest
// produced by Hash.
func (s *Service) VerifyHash(data, saltedDigest string) (bool, error) {
	raw, err := base64.StdEncoding.DecodeString(saltedDigest)
	if err != nil {
		return false, &domain.CryptoError{Message: "malformed hash encoding", Cause: err}
	}
	if len(raw) < hashSaltSize {
		return false, &domain.CryptoError{Message: "hash too short"}
	}
	salt, digest := raw[:hashSaltSize], raw[hashSaltSize:]
	candidate := pbkdf2.Key([]byte(data), salt, hashIterations, len(digest), sha512.New)
	return subtle.ConstantTimeCompare(candidate, digest) == 1, nil
}

// RandomToken returns base64url(n random bytes). Callers use n>=32 for
// OAuth state and n>=64 for PKCE verifiers.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", &domain.CryptoError{Message: "failed to generate random token", Cause: err}
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// PKCEChallenge computes base64url(SHA-256(verifier)).
func PKCEChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// BackupEncrypt implements the format salt(32) || iv(16) || tag(16) ||
// ciphertext, key = PBKDF2-SHA256(passphrase, salt, 100000, 32).
func BackupEncrypt(blob []byte, passphrase string) (string, error) {
	salt := make([]byte, backupSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", &domain.CryptoError{Message: "failed to generate backup salt", Cause: err}
	}
	key := pbkdf2.Key([]byte(passphrase), salt, backupIterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", &domain.CryptoError{Message: "failed to create backup cipher", Cause: err}
	}
	iv := make([]byte, backupIVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", &domain.CryptoError{Message: "failed to generate backup iv", Cause: err}
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, backupIVSize)
	if err != nil {
		return "", &domain.CryptoError{Message: "failed to create backup gcm", Cause: err}
	}
	sealed := gcm.Seal(nil, iv, blob, nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, backupSaltSize+backupIVSize+tagSize+len(ct))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// BackupDecrypt reverses BackupEncrypt; wrong passphrase or tampering
// yields a CryptoError.
func BackupDecrypt(encoded string, passphrase string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &domain.CryptoError{Message: "malformed backup encoding", Cause: err}
	}
	if len(raw) < backupSaltSize+backupIVSize+tagSize {
		return nil, &domain.CryptoError{Message: "backup payload too short"}
	}
	salt := raw[:backupSaltSize]
	iv := raw[backupSaltSize : backupSaltSize+backupIVSize]
	tag := raw[backupSaltSize+backupIVSize : backupSaltSize+backupIVSize+tagSize]
	ct := raw[backupSaltSize+backupIVSize+tagSize:]

	key := pbkdf2.Key([]byte(passphrase), salt, backupIterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &domain.CryptoError{Message: "failed to create backup cipher", Cause: err}
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, backupIVSize)
	if err != nil {
		return nil, &domain.CryptoError{Message: "failed to create backup gcm", Cause: err}
	}
	sealed := append(append([]byte{}, ct...), tag...)
	plain, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, &domain.CryptoError{Message: "backup decryption failed: wrong passphrase or corrupt payload", Cause: err}
	}
	return plain, nil
}

// Rotate returns a new Service holding a freshly generated key, with a
// key version one higher than s's. It neither changes s nor re-encrypts
// anything: ReencryptColumn rewrites ciphertexts under the new key, and
// Swap and Commit install it.
func (s *Service) Rotate() (*Service, error) {
	newKey := make([]byte, keySize)
	if _, err := rand.Read(newKey); err != nil {
		return nil, &domain.CryptoError{Message: "failed to generate rotation key", Cause: err}
	}
	return &Service{keyPath: s.keyPath, key: newKey, version: s.KeyVersion() + 1}, nil
}

// Commit persists a rotated Service's key to disk, replacing the old one.
// Called only after the caller's re-encryption transaction has committed.
func (s *Service) Commit() error {
	s.mu.RLock()
	key := s.key
	s.mu.RUnlock()
	return os.WriteFile(s.keyPath, key, 0o600)
}

// Swap atomically replaces s's key and version with rotated's, so every
// holder of this *Service (Store, oauthcore, ...) observes the new key
// the instant rotation commits. rotated is discarded after the call.
func (s *Service) Swap(rotated *Service) {
	rotated.mu.RLock()
	key, version := rotated.key, rotated.version
	rotated.mu.RUnlock()

	s.mu.Lock()
	s.key = key
	s.version = version
	s.mu.Unlock()
}

// ReencryptColumn decrypts a column under oldKey and re-encrypts it under
// the Service's current key. Used by store.RotateEncryptionKey row-by-row
// inside the rotation transaction.
func ReencryptColumn(oldKey []byte, newSvc *Service, ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	plain, err := decryptWithKey(oldKey, ciphertext)
	if err != nil {
		return "", err
	}
	return newSvc.Encrypt(plain)
}
