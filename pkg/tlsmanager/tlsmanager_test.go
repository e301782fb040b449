package tlsmanager

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCAIssuesChainableLeaf(t *testing.T) {
	ca, err := NewCA("test-root", 0)
	require.NoError(t, err)

	issued, err := ca.Issue(UsageServerAuth, "svc.internal", []string{"svc.internal"}, []net.IP{net.ParseIP("127.0.0.1")}, time.Hour)
	require.NoError(t, err)

	pool := ca.Pool()
	_, err = issued.Leaf.Verify(x509.VerifyOptions{Roots: pool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}})
	assert.NoError(t, err)
}

func TestValidateRejectsExpiredCertificate(t *testing.T) {
	ca, err := NewCA("test-root", 0)
	require.NoError(t, err)
	issued, err := ca.Issue(UsageServerAuth, "svc", []string{"svc"}, nil, -time.Hour)
	require.NoError(t, err)

	v := NewValidator(ca.Pool(), nil, nil, nil)
	_, err = v.Validate(issued.DER, nil, UsageServerAuth, PeerIdentity{DNSName: "svc"})
	require.Error(t, err)
	var f Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, KindCertificateExpired, f.Kind)
}

func TestValidateRejectsSANMismatch(t *testing.T) {
	ca, err := NewCA("test-root", 0)
	require.NoError(t, err)
	issued, err := ca.Issue(UsageServerAuth, "svc", []string{"svc.internal"}, nil, time.Hour)
	require.NoError(t, err)

	v := NewValidator(ca.Pool(), nil, nil, nil)
	_, err = v.Validate(issued.DER, nil, UsageServerAuth, PeerIdentity{DNSName: "other.internal"})
	require.Error(t, err)
	var f Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, KindSANMismatch, f.Kind)
}

func TestValidateAcceptsWithNoRevocationEndpoints(t *testing.T) {
	ca, err := NewCA("test-root", 0)
	require.NoError(t, err)
	issued, err := ca.Issue(UsageServerAuth, "svc", []string{"svc.internal"}, nil, time.Hour)
	require.NoError(t, err)

	ocspCache := NewOCSPCache(time.Hour)
	v := NewValidator(ca.Pool(), ocspCache, nil, nil)
	cert, err := v.Validate(issued.DER, issued.Leaf, UsageServerAuth, PeerIdentity{DNSName: "svc.internal"})
	require.NoError(t, err)
	assert.Equal(t, issued.Leaf.SerialNumber, cert.SerialNumber)
}

func TestOCSPCacheInvariantMinOfNextUpdateAndTTL(t *testing.T) {
	c := NewOCSPCache(time.Hour)
	now := time.Now()
	entry := ocspCacheEntry{status: RevocationGood, cachedAt: now, nextUpdate: now.Add(5 * time.Minute)}
	assert.Equal(t, entry.nextUpdate, entry.expiresAt(time.Hour))

	entry2 := ocspCacheEntry{status: RevocationGood, cachedAt: now, nextUpdate: now.Add(2 * time.Hour)}
	assert.Equal(t, entry2.cachedAt.Add(time.Hour), entry2.expiresAt(time.Hour))
	_ = c
}

func TestOCSPCacheRevokedIgnoresNextUpdate(t *testing.T) {
	now := time.Now()
	// nextUpdate is much sooner than ttl, but a revoked status must
	// still be cached for the full ttl: a CA cannot un-revoke a cert.
	entry := ocspCacheEntry{status: RevocationRevoked, cachedAt: now, nextUpdate: now.Add(time.Minute)}
	assert.Equal(t, entry.cachedAt.Add(time.Hour), entry.expiresAt(time.Hour))
}

// issueWithOCSPServer builds a leaf certificate directly (bypassing
// CA.Issue, which never sets OCSPServer) carrying an OCSP responder URL
// that nothing is listening on, to exercise the OCSP-configured-but-
// unreachable path.
func issueWithOCSPServer(t *testing.T, ca *CA, commonName string, dnsNames []string, ocspURL string) (*x509.Certificate, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-5 * time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     dnsNames,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		OCSPServer:   []string{ocspURL},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return leaf, der
}

func TestValidateFailsClosedWhenOCSPConfiguredButUnreachable(t *testing.T) {
	ca, err := NewCA("test-root", 0)
	require.NoError(t, err)
	// Port 0 on loopback refuses the connection immediately instead of
	// hanging, so the OCSP fetch fails fast without a live responder.
	_, der := issueWithOCSPServer(t, ca, "svc", []string{"svc.internal"}, "http://127.0.0.1:0/ocsp")

	ocspCache := NewOCSPCache(time.Hour)
	v := NewValidator(ca.Pool(), ocspCache, nil, nil)
	_, err = v.Validate(der, ca.cert, UsageServerAuth, PeerIdentity{DNSName: "svc.internal"})
	require.Error(t, err)
	var f Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, KindOCSPValidation, f.Kind)
}

func TestNeedsRotationTrueNearExpiry(t *testing.T) {
	ca, err := NewCA("test-root", 0)
	require.NoError(t, err)
	issued, err := ca.Issue(UsageServerAuth, "svc", []string{"svc"}, nil, time.Minute)
	require.NoError(t, err)
	assert.True(t, NeedsRotation(issued, time.Hour))
}

func TestManagerRotateIfNeededSwapsResolver(t *testing.T) {
	ca, err := NewCA("test-root", 0)
	require.NoError(t, err)
	m, err := NewManager(ca, "svc", []string{"svc"}, nil, time.Minute, nil)
	require.NoError(t, err)

	before := m.resolver.current.Load()
	rotated, err := m.RotateIfNeeded(time.Hour)
	require.NoError(t, err)
	assert.True(t, rotated)
	after := m.resolver.current.Load()
	assert.NotEqual(t, before, after)
}
