package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrInvalidKeyFile indicates a key file that does not hold a hex encoded
// 32-byte private key.
var ErrInvalidKeyFile = errors.New("invalid key file")

// LoadKeyFile reads a hex encoded private key and derives its pair.
func LoadKeyFile(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(data)

	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKeyFile, path)
	}
	defer ZeroBytes(raw)

	var secret [32]byte
	copy(secret[:], raw)
	defer ZeroBytes(secret[:])
	return FromSecretKey(secret)
}

// LoadOrCreateKeyFile loads the key at path, generating and saving a new one
// with owner-only permissions if the file does not exist yet.
func LoadOrCreateKeyFile(path string) (*KeyPair, error) {
	kp, err := LoadKeyFile(path)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	kp, err = GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create key directory: %w", err)
		}
	}
	encoded := []byte(hex.EncodeToString(kp.Private[:]) + "\n")
	defer ZeroBytes(encoded)
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "LoadOrCreateKeyFile",
		"path":        path,
		"fingerprint": Fingerprint(kp.Public),
	}).Info("Generated new static key")
	return kp, nil
}

// Fingerprint returns the hex form of a public key.
func Fingerprint(public [32]byte) string {
	return hex.EncodeToString(public[:])
}

// ParseFingerprint decodes a hex public key as printed by Fingerprint.
func ParseFingerprint(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(raw) != 32 {
		return key, fmt.Errorf("invalid public key %q", s)
	}
	copy(key[:], raw)
	return key, nil
}
