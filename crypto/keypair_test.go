package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

func TestGenerateKeyPair(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, a.Private, b.Private)
	assert.NotEqual(t, a.Public, b.Public)

	derived, err := FromSecretKey(a.Private)
	require.NoError(t, err)
	assert.Equal(t, a.Public, derived.Public)
}

func TestFromSecretKeyRejectsZero(t *testing.T) {
	_, err := FromSecretKey([32]byte{})
	assert.ErrorIs(t, err, ErrZeroKey)
}

func TestKeyAgreement(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	ab, err := curve25519.X25519(a.Private[:], b.Public[:])
	require.NoError(t, err)
	ba, err := curve25519.X25519(b.Private[:], a.Public[:])
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
}

func TestWipe(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, WipeKeyPair(kp))
	assert.Equal(t, [32]byte{}, kp.Private)

	assert.Error(t, SecureWipe(nil))
	assert.Error(t, WipeKeyPair(nil))

	data := []byte("secret")
	ZeroBytes(data)
	assert.Equal(t, make([]byte, 6), data)
}

func TestLoadOrCreateKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "server.key")

	created, err := LoadOrCreateKeyFile(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadOrCreateKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, created.Public, loaded.Public)
	assert.Equal(t, created.Private, loaded.Private)
}

func TestLoadKeyFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.key")
	require.NoError(t, os.WriteFile(path, []byte("not hex"), 0o600))

	_, err := LoadKeyFile(path)
	assert.ErrorIs(t, err, ErrInvalidKeyFile)

	_, err = LoadOrCreateKeyFile(path)
	assert.ErrorIs(t, err, ErrInvalidKeyFile)
}

func TestFingerprintRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	parsed, err := ParseFingerprint(Fingerprint(kp.Public))
	require.NoError(t, err)
	assert.Equal(t, kp.Public, parsed)

	_, err = ParseFingerprint("abcd")
	assert.Error(t, err)
}
