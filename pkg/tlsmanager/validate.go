package tlsmanager

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"time"

	"github.com/cogforge/coc/core"
)

// FailureKind names which pipeline stage rejected a certificate, the
// taxonomy kinds named in the error-handling design (not Go type names).
type FailureKind string

const (
	KindCertificateParsing FailureKind = "certificate_parsing"
	KindCertificateExpired FailureKind = "certificate_expired"
	KindChainValidation    FailureKind = "chain_validation"
	KindKeyUsage           FailureKind = "key_usage"
	KindOCSPValidation     FailureKind = "ocsp_validation"
	KindCRLValidation      FailureKind = "crl_validation"
	KindSANMismatch        FailureKind = "san_mismatch"
)

// Failure is returned by Validate, carrying the rejecting stage.
type Failure struct {
	Kind   FailureKind
	Reason string
}

func (f Failure) Error() string { return fmt.Sprintf("tlsmanager: %s: %s", f.Kind, f.Reason) }

func fail(kind FailureKind, reason string) error { return Failure{Kind: kind, Reason: reason} }

// PeerIdentity is the expected SAN (DNS or IP) the peer certificate must
// present, the final step of the validation pipeline.
type PeerIdentity struct {
	DNSName string
	IP      net.IP
}

// Validator runs the six-stage peer certificate pipeline described in
// the TLS Manager section: parse, temporal, chain, key usage,
// revocation (OCSP with CRL fallback), SAN match.
type Validator struct {
	trustRoots *x509.CertPool
	ocsp       *OCSPCache
	crl        *CRLCache
	logger     core.ComponentAwareLogger
}

func NewValidator(trustRoots *x509.CertPool, ocsp *OCSPCache, crl *CRLCache, logger core.ComponentAwareLogger) *Validator {
	return &Validator{trustRoots: trustRoots, ocsp: ocsp, crl: crl, logger: logger}
}

// ParseCertificate accepts either DER or PEM bytes, rejecting on
// CertificateParsing failure.
func ParseCertificate(raw []byte) (*x509.Certificate, error) {
	der := raw
	if block, _ := pem.Decode(raw); block != nil {
		der = block.Bytes
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fail(KindCertificateParsing, err.Error())
	}
	return cert, nil
}

// Validate runs the full pipeline against a peer certificate, given its
// issuer (for OCSP signing verification) and the expected role/identity.
func (v *Validator) Validate(raw []byte, issuer *x509.Certificate, usage Usage, identity PeerIdentity) (*x509.Certificate, error) {
	cert, err := ParseCertificate(raw)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, fail(KindCertificateExpired, "certificate outside validity window")
	}

	opts := x509.VerifyOptions{Roots: v.trustRoots, CurrentTime: now}
	switch usage {
	case UsageServerAuth:
		opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	case UsageClientAuth:
		opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	default:
		opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageAny}
	}
	if _, err := cert.Verify(opts); err != nil {
		return nil, fail(KindChainValidation, err.Error())
	}

	if !hasExpectedKeyUsage(cert, usage) {
		return nil, fail(KindKeyUsage, "certificate key usage does not match expected role")
	}

	if v.ocsp != nil && issuer != nil {
		hadOCSPURL := len(cert.OCSPServer) > 0
		status, checked := v.ocsp.Check(cert, issuer)
		if checked && status == RevocationRevoked {
			return nil, fail(KindOCSPValidation, "certificate revoked per OCSP")
		}
		if !checked {
			crlChecked := false
			if v.crl != nil {
				revoked, ok := v.crl.Check(cert)
				if ok && revoked {
					return nil, fail(KindCRLValidation, "certificate revoked per CRL")
				}
				crlChecked = ok
			}
			switch {
			case crlChecked:
				// CRL confirmed the certificate is not revoked; OCSP's
				// failure to check doesn't matter.
			case hadOCSPURL:
				// OCSP responder was configured but unreachable, and CRL
				// couldn't confirm either: fail closed rather than trust
				// an unconfirmed certificate.
				return nil, fail(KindOCSPValidation, "OCSP responder unreachable and no CRL confirmation available")
			default:
				if v.logger != nil {
					v.logger.Warn("no OCSP or CRL endpoint configured, accepting certificate", map[string]interface{}{
						"serial": cert.SerialNumber.String(),
					})
				}
			}
		}
	}

	if !matchesSAN(cert, identity) {
		return nil, fail(KindSANMismatch, "no SAN entry matches expected peer identity")
	}

	return cert, nil
}

func hasExpectedKeyUsage(cert *x509.Certificate, usage Usage) bool {
	switch usage {
	case UsageServerAuth:
		for _, eku := range cert.ExtKeyUsage {
			if eku == x509.ExtKeyUsageServerAuth || eku == x509.ExtKeyUsageAny {
				return true
			}
		}
		return false
	case UsageClientAuth:
		for _, eku := range cert.ExtKeyUsage {
			if eku == x509.ExtKeyUsageClientAuth || eku == x509.ExtKeyUsageAny {
				return true
			}
		}
		return false
	case UsageCertificateAuthority:
		return cert.IsCA
	default:
		return false
	}
}

func matchesSAN(cert *x509.Certificate, identity PeerIdentity) bool {
	if identity.DNSName == "" && identity.IP == nil {
		return true
	}
	if identity.DNSName != "" {
		for _, name := range cert.DNSNames {
			if name == identity.DNSName {
				return true
			}
		}
	}
	if identity.IP != nil {
		for _, ip := range cert.IPAddresses {
			if ip.Equal(identity.IP) {
				return true
			}
		}
	}
	return false
}
