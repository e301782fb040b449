package discoverytoken

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"golang.org/x/crypto/nacl/box"

	"github.com/cogforge/coc/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	encrypted, err := m.Encrypt("peer-token-abc")
	require.NoError(t, err)
	assert.NotEmpty(t, encrypted.Ciphertext)
	assert.NotEmpty(t, encrypted.KeyID)

	token, err := m.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "peer-token-abc", token)
}

func TestDecryptExpiredToken(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	encrypted, err := m.Encrypt("peer-token")
	require.NoError(t, err)
	encrypted.CreatedAt = time.Now().Add(-49 * time.Hour).Unix()

	_, err = m.Decrypt(encrypted)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestRotationAllowsDecryptingWithPreviousKey(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	encrypted, err := m.Encrypt("rotating-token")
	require.NoError(t, err)

	require.NoError(t, m.RotateKeypair())

	token, err := m.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "rotating-token", token)
}

func TestRevokedTokenRejected(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	encrypted, err := m.Encrypt("revoke-me")
	require.NoError(t, err)

	extractedNonce := extractNonceForTest(t, m, encrypted)
	m.Revoke(extractedNonce)

	_, err = m.Decrypt(encrypted)
	assert.ErrorIs(t, err, core.ErrTokenRevoked)
}

func extractNonceForTest(t *testing.T, m *Manager, encrypted EncryptedToken) string {
	t.Helper()
	// Recovers the nonce embedded in the sealed payload, mirroring the
	// original's test-only extract_token_data accessor.
	m.mu.RLock()
	current := m.current
	m.mu.RUnlock()

	ciphertext, err := base64.StdEncoding.DecodeString(encrypted.Ciphertext)
	require.NoError(t, err)

	plaintext, ok := box.OpenAnonymous(nil, ciphertext, current.public, current.secret)
	require.True(t, ok)

	var data tokenData
	require.NoError(t, json.Unmarshal(plaintext, &data))
	return data.Nonce
}

func TestCleanupRevokedEvictsOldEntries(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)

	m.revoked["old"] = time.Now().Add(-(validityWindow + time.Hour))
	m.revoked["fresh"] = time.Now()

	removed := m.CleanupRevoked()
	assert.Equal(t, 1, removed)
	_, stillPresent := m.revoked["fresh"]
	assert.True(t, stillPresent)
}

func TestPublicKeyIsStable(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	key1 := m.PublicKey()
	key2 := m.PublicKey()
	assert.Equal(t, key1, key2)
}
