// Package tlsmanager owns a local certificate authority, issues and
// rotates peer certificates, and runs the validation pipeline (parse,
// temporal, chain, key usage, OCSP-with-CRL-fallback, SAN match) an
// incoming peer certificate must pass. Grounded on
// sweetmcp-pingora/src/tls/tls_manager/core.rs's CertificateUsage/
// ParsedCertificate/TlsError shape, rendered with the standard library's
// crypto/x509 and crypto/tls instead of rcgen/rustls since no
// certificate-generation or TLS-stack library appears anywhere in the
// retrieval pack.
package tlsmanager

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/cogforge/coc/core"
)

// Usage mirrors the source's CertificateUsage: the expected KeyUsage role
// a certificate must satisfy during validation.
type Usage int

const (
	UsageServerAuth Usage = iota
	UsageClientAuth
	UsageCertificateAuthority
)

// CA owns the local root keypair and self-signed certificate. Exclusively
// owned by the TLS Manager per the ownership note; certificates it issues
// are shared by reference with short-lived TLS session contexts.
type CA struct {
	mu       sync.RWMutex
	key      *ecdsa.PrivateKey
	cert     *x509.Certificate
	certDER  []byte
	serial   *big.Int
}

// NewCA generates a fresh self-signed root, valid for validFor (defaults
// to 10 years when zero).
func NewCA(commonName string, validFor time.Duration) (*CA, error) {
	if validFor <= 0 {
		validFor = 10 * 365 * 24 * time.Hour
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"cogforge"}},
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              time.Now().Add(validFor),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &CA{key: key, cert: cert, certDER: der, serial: big.NewInt(1)}, nil
}

// CertificateDER returns the root certificate, DER-encoded.
func (c *CA) CertificateDER() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.certDER
}

// Pool returns an x509.CertPool trusting only this CA, used as the
// configured trust anchor set in the chain-validation step.
func (c *CA) Pool() *x509.CertPool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pool := x509.NewCertPool()
	pool.AddCert(c.cert)
	return pool
}

// IssuedCert bundles a leaf certificate with its private key, ready to
// be adapted into a tls.Certificate.
type IssuedCert struct {
	Leaf       *x509.Certificate
	DER        []byte
	Key        *ecdsa.PrivateKey
	NotAfter   time.Time
}

// Issue creates a leaf certificate with appropriate KeyUsage/ExtKeyUsage
// for usage, and SANs for dnsNames/ips, matching the issuance
// responsibility: "issues server/client certificates with appropriate
// KeyUsage and SANs (DNS+IP)".
func (c *CA) Issue(usage Usage, commonName string, dnsNames []string, ips []net.IP, validFor time.Duration) (*IssuedCert, error) {
	if validFor == 0 {
		validFor = 90 * 24 * time.Hour
	}
	c.mu.Lock()
	serial := new(big.Int).Add(c.serial, big.NewInt(1))
	c.serial = serial
	caCert, caKey := c.cert, c.key
	c.mu.Unlock()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber: new(big.Int).Set(serial),
		Subject:      pkix.Name{CommonName: commonName, Organization: []string{"cogforge"}},
		NotBefore:    time.Now().Add(-5 * time.Minute),
		NotAfter:     time.Now().Add(validFor),
		DNSNames:     dnsNames,
		IPAddresses:  ips,
	}
	switch usage {
	case UsageServerAuth:
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
		tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	case UsageClientAuth:
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature
		tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	case UsageCertificateAuthority:
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
		tmpl.BasicConstraintsValid = true
		tmpl.IsCA = true
	default:
		return nil, fmt.Errorf("tlsmanager: unknown usage %d", usage)
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, &key.PublicKey, caKey)
	if err != nil {
		return nil, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &IssuedCert{Leaf: leaf, DER: der, Key: key, NotAfter: tmpl.NotAfter}, nil
}

// TLSCertificate adapts an IssuedCert into a tls.Certificate, chained
// with the CA certificate.
func (c *CA) TLSCertificate(issued *IssuedCert) (tls.Certificate, error) {
	keyDER, err := x509.MarshalECPrivateKey(issued.Key)
	if err != nil {
		return tls.Certificate{}, mapUsageError("marshal issued key", err)
	}
	cert, err := tls.X509KeyPair(
		pemBlock("CERTIFICATE", issued.DER),
		pemBlock("EC PRIVATE KEY", keyDER),
	)
	if err != nil {
		return tls.Certificate{}, mapUsageError("build tls certificate", err)
	}
	return cert, nil
}

// NeedsRotation reports whether issued is within renewBefore of expiry,
// the rotation trigger: "certificates approaching expiry are reissued".
func NeedsRotation(issued *IssuedCert, renewBefore time.Duration) bool {
	return time.Until(issued.NotAfter) < renewBefore
}

func pemBlock(blockType string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}

// mapUsageError wraps a certificate-authority failure into the taxonomy's
// cryptographic-failure kind used elsewhere in this package.
func mapUsageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("tlsmanager: %s: %w: %v", op, core.ErrCertificateInvalid, err)
}
