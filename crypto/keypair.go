package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// ErrZeroKey indicates an all-zero secret key.
var ErrZeroKey = errors.New("invalid secret key: all zeros")

// KeyPair is a Curve25519 key pair.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, fmt.Errorf("failed to read random key: %w", err)
	}
	kp, err := FromSecretKey(secret)
	ZeroBytes(secret[:])
	return kp, err
}

// FromSecretKey derives the public half from an existing private key.
func FromSecretKey(secretKey [32]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		return nil, ErrZeroKey
	}

	public, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	kp := &KeyPair{Private: secretKey}
	copy(kp.Public[:], public)
	return kp, nil
}

func isZeroKey(key [32]byte) bool {
	var acc byte
	for _, b := range key {
		acc |= b
	}
	return acc == 0
}
