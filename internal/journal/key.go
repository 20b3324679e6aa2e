package journal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

// Key handling errors.
var (
	ErrInsufficientEntropy = errors.New("journal: insufficient entropy")
	ErrWeakKey             = errors.New("journal: key is too weak")
)

// MinKeySize is the minimum master key size in bytes.
const MinKeySize = 16

// RecommendedKeySize is the generated key size in bytes.
const RecommendedKeySize = 32

// GenerateKey returns fresh cryptographically secure key material.
func GenerateKey(size int) ([]byte, error) {
	key := make([]byte, size)
	n, err := rand.Read(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientEntropy, err)
	}
	if n != size {
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrInsufficientEntropy, n, size)
	}
	return key, nil
}

// DeriveKey derives a purpose-bound key from the master secret using
// HKDF-SHA256. The label provides domain separation so the same master
// secret can back independent keys.
func DeriveKey(master []byte, label string, size int) ([]byte, error) {
	if len(master) < MinKeySize {
		return nil, fmt.Errorf("%w: master key is %d bytes, minimum %d",
			ErrWeakKey, len(master), MinKeySize)
	}

	reader := hkdf.New(sha256.New, master, nil, []byte("sentryd:"+label))
	key := make([]byte, size)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// SecureCompare performs a constant-time comparison.
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Wipe overwrites key material in place.
func Wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// loadOrCreateMasterKey reads the master secret file, generating one
// with fresh random material when it does not exist.
func loadOrCreateMasterKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) < MinKeySize {
			return nil, fmt.Errorf("%w: key file %s holds %d bytes", ErrWeakKey, path, len(data))
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key, err := GenerateKey(RecommendedKeySize)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}
