// Package discoverytoken seals and opens peer discovery tokens using
// anonymous-sender NaCl boxes, with keypair rotation under a single
// RWMutex and a separately locked revocation list. Grounded on
// sweetmcp-pingora/src/crypto.rs's TokenManager.
package discoverytoken

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/nacl/box"

	"github.com/cogforge/coc/core"
)

const (
	rotationInterval = 24 * time.Hour
	validityWindow   = 48 * time.Hour // grace period covering one rotation cycle
)

// EncryptedToken is the wire envelope documented in spec.md §6.
type EncryptedToken struct {
	Ciphertext string `json:"ciphertext"`
	CreatedAt  int64  `json:"created_at"`
	KeyID      string `json:"key_id"`
}

type tokenData struct {
	Token    string `json:"token"`
	IssuedAt int64  `json:"issued_at"`
	Nonce    string `json:"nonce"`
}

type keypair struct {
	public    *[32]byte
	secret    *[32]byte
	keyID     string
	createdAt time.Time
}

func generateKeypair() (*keypair, error) {
	pub, sec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &keypair{
		public:    pub,
		secret:    sec,
		keyID:     base64.StdEncoding.EncodeToString(pub[:8]),
		createdAt: time.Now(),
	}, nil
}

func randomNonce() ([]byte, error) {
	nonce := make([]byte, 24)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// Manager holds the current and previous keypair plus a revocation set.
// One RWMutex guards both keypair slots; there are no separate
// per-keypair locks. The revocation set has its own mutex.
type Manager struct {
	mu       sync.RWMutex
	current  *keypair
	previous *keypair

	revokedMu sync.Mutex
	revoked   map[string]time.Time

	logger core.ComponentAwareLogger
}

func New(logger core.ComponentAwareLogger) (*Manager, error) {
	kp, err := generateKeypair()
	if err != nil {
		return nil, err
	}
	return &Manager{
		current: kp,
		revoked: make(map[string]time.Time),
		logger:  logger,
	}, nil
}

// RotateKeypair moves current to previous and generates a fresh current
// keypair, swapping both slots under the single write lock. Decrypt reads
// both slots under the read lock and tries current before previous.
func (m *Manager) RotateKeypair() error {
	next, err := generateKeypair()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.previous = m.current
	m.current = next
	if m.logger != nil {
		m.logger.Info("token keypair rotated", map[string]interface{}{"key_id": next.keyID})
	}
	return nil
}

// Encrypt seals token under the current public key as an anonymous-sender
// box.
func (m *Manager) Encrypt(token string) (EncryptedToken, error) {
	m.mu.RLock()
	kp := m.current
	m.mu.RUnlock()

	nonce, err := randomNonce()
	if err != nil {
		return EncryptedToken{}, err
	}

	data := tokenData{
		Token:    token,
		IssuedAt: time.Now().Unix(),
		Nonce:    base64.StdEncoding.EncodeToString(nonce),
	}
	plaintext, err := json.Marshal(data)
	if err != nil {
		return EncryptedToken{}, err
	}

	ciphertext, err := box.SealAnonymous(nil, plaintext, kp.public, nil)
	if err != nil {
		return EncryptedToken{}, err
	}

	return EncryptedToken{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		CreatedAt:  data.IssuedAt,
		KeyID:      kp.keyID,
	}, nil
}

// Decrypt validates token age, opens the sealed box against whichever of
// current/previous keypair matches KeyID, then checks the revocation set.
func (m *Manager) Decrypt(encrypted EncryptedToken) (string, error) {
	age := time.Since(time.Unix(encrypted.CreatedAt, 0))
	if age > validityWindow {
		return "", core.ErrTokenExpired
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encrypted.Ciphertext)
	if err != nil {
		return "", Failure{Reason: "invalid base64 ciphertext"}
	}

	m.mu.RLock()
	current, previous := m.current, m.previous
	m.mu.RUnlock()

	var plaintext []byte
	var opened bool

	if current != nil && encrypted.KeyID == current.keyID {
		plaintext, opened = box.OpenAnonymous(nil, ciphertext, current.public, current.secret)
	}
	if !opened && previous != nil && encrypted.KeyID == previous.keyID {
		plaintext, opened = box.OpenAnonymous(nil, ciphertext, previous.public, previous.secret)
	}
	if !opened {
		return "", Failure{Reason: "failed to decrypt token: invalid or unknown key"}
	}

	var data tokenData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return "", Failure{Reason: "malformed token payload"}
	}

	m.revokedMu.Lock()
	_, isRevoked := m.revoked[data.Nonce]
	m.revokedMu.Unlock()
	if isRevoked {
		return "", core.ErrTokenRevoked
	}

	return data.Token, nil
}

// Revoke marks a token's nonce as revoked until it ages out of the
// validity window.
func (m *Manager) Revoke(nonce string) {
	m.revokedMu.Lock()
	defer m.revokedMu.Unlock()
	m.revoked[nonce] = time.Now()
}

// CleanupRevoked drops revocation entries older than the validity window,
// run alongside rotation the way the source's rotation task does.
func (m *Manager) CleanupRevoked() int {
	cutoff := time.Now().Add(-validityWindow)
	m.revokedMu.Lock()
	defer m.revokedMu.Unlock()

	removed := 0
	for nonce, revokedAt := range m.revoked {
		if revokedAt.Before(cutoff) {
			delete(m.revoked, nonce)
			removed++
		}
	}
	return removed
}

// PublicKey returns the current public key, base64-encoded, for peer
// verification.
func (m *Manager) PublicKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return base64.StdEncoding.EncodeToString(m.current.public[:])
}

// RotationInterval and ValidityWindow are exposed for a supervisor's
// scheduled rotation loop.
func RotationInterval() time.Duration { return rotationInterval }
func ValidityWindow() time.Duration   { return validityWindow }

// Failure is returned for any decrypt/decode error that isn't a sentinel
// core error (expired, revoked).
type Failure struct{ Reason string }

func (f Failure) Error() string { return "discoverytoken: " + f.Reason }
