package edge

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogforge/coc/pkg/discoverytoken"
	"github.com/cogforge/coc/pkg/ratelimit"
)

type stubUpstream struct{ ok bool }

func (s stubUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) bool {
	if s.ok {
		w.WriteHeader(http.StatusOK)
	}
	return s.ok
}

func newTestService(t *testing.T, upstreamOK bool) *Service {
	t.Helper()
	tokens, err := discoverytoken.New(nil)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.JWTSecret = []byte("test-secret")
	cfg.RateLimit = ratelimit.Config{RequestsPerMinute: 6000, BurstSize: 100}
	return New(cfg, tokens, stubUpstream{ok: upstreamOK}, nil, nil)
}

func signToken(t *testing.T, secret []byte, peerID string, role Role) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		PeerID:           peerID,
		Role:             role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestHealthRequiresNoAuth(t *testing.T) {
	svc := newTestService(t, true)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestPeersRequiresDiscoveryToken(t *testing.T) {
	svc := newTestService(t, true)
	req := httptest.NewRequest(http.MethodGet, "/api/peers", nil)
	w := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterThenListPeers(t *testing.T) {
	svc := newTestService(t, true)
	enc, err := svc.tokens.Encrypt("discovery-secret")
	require.NoError(t, err)
	encBytes, _ := json.Marshal(enc)

	regBody, _ := json.Marshal(registerRequest{PeerID: "peer-1", Addr: "10.0.0.1:9000", PublicKeyB64: "abc"})
	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader(regBody))
	req.Header.Set("x-discovery-token", string(encBytes))
	w := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var regResp registerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &regResp))
	assert.True(t, regResp.Accepted)

	req2 := httptest.NewRequest(http.MethodGet, "/api/peers", nil)
	req2.Header.Set("x-discovery-token", string(encBytes))
	w2 := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)

	var peers []PeerView
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &peers))
	require.Len(t, peers, 1)
	assert.Equal(t, "peer-1", peers[0].PeerID)
}

func TestDispatchMissingBearerRejected(t *testing.T) {
	svc := newTestService(t, true)
	req := httptest.NewRequest(http.MethodGet, "/api/tool/run", nil)
	w := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDispatchWriteRequiresWriteRole(t *testing.T) {
	svc := newTestService(t, true)
	token := signToken(t, svc.cfg.JWTSecret, "peer-2", RoleRead)
	req := httptest.NewRequest(http.MethodPost, "/api/tool/run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDispatchAdminSatisfiesWrite(t *testing.T) {
	svc := newTestService(t, true)
	token := signToken(t, svc.cfg.JWTSecret, "peer-3", RoleAdmin)
	req := httptest.NewRequest(http.MethodPost, "/api/tool/run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDispatchUpstreamFailureReports502(t *testing.T) {
	svc := newTestService(t, false)
	token := signToken(t, svc.cfg.JWTSecret, "peer-4", RoleRead)
	req := httptest.NewRequest(http.MethodGet, "/api/tool/run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestCircuitOpenReturns503(t *testing.T) {
	svc := newTestService(t, false)
	token := signToken(t, svc.cfg.JWTSecret, "peer-5", RoleRead)
	cb := svc.breakerFor("peer-5")
	cb.ForceOpen()

	req := httptest.NewRequest(http.MethodGet, "/api/tool/run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	svc.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
