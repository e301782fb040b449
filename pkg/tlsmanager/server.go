package tlsmanager

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cogforge/coc/core"
)

// ServerResolver hot-swaps the active server certificate so existing
// connections keep their session and new connections pick up the fresh
// cert without restart, per the TLS Manager's rotation responsibility.
type ServerResolver struct {
	current atomic.Pointer[tls.Certificate]
}

func NewServerResolver(initial tls.Certificate) *ServerResolver {
	r := &ServerResolver{}
	r.current.Store(&initial)
	return r
}

// GetCertificate satisfies tls.Config.GetCertificate.
func (r *ServerResolver) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return r.current.Load(), nil
}

// Swap installs a newly issued certificate as the active one.
func (r *ServerResolver) Swap(cert tls.Certificate) {
	r.current.Store(&cert)
}

// TLSConfig builds a *tls.Config whose GetCertificate always resolves to
// the resolver's current certificate.
func (r *ServerResolver) TLSConfig() *tls.Config {
	return &tls.Config{GetCertificate: r.GetCertificate, MinVersion: tls.VersionTLS12}
}

// Manager ties together the CA, resolver and rotation policy for a
// single server identity (DNS names + IPs).
type Manager struct {
	ca       *CA
	resolver *ServerResolver
	logger   core.ComponentAwareLogger

	mu       sync.Mutex
	issued   *IssuedCert
	dnsNames []string
	ips      []net.IP
	validFor time.Duration
}

// NewManager issues an initial server certificate and wraps it in a
// hot-swappable resolver.
func NewManager(ca *CA, commonName string, dnsNames []string, ips []net.IP, validFor time.Duration, logger core.ComponentAwareLogger) (*Manager, error) {
	issued, err := ca.Issue(UsageServerAuth, commonName, dnsNames, ips, validFor)
	if err != nil {
		return nil, err
	}
	tlsCert, err := ca.TLSCertificate(issued)
	if err != nil {
		return nil, err
	}
	return &Manager{
		ca:       ca,
		resolver: NewServerResolver(tlsCert),
		logger:   logger,
		issued:   issued,
		dnsNames: dnsNames,
		ips:      ips,
		validFor: validFor,
	}, nil
}

func (m *Manager) TLSConfig() *tls.Config { return m.resolver.TLSConfig() }

// RotateIfNeeded reissues and hot-swaps the server certificate when it is
// within renewBefore of expiry.
func (m *Manager) RotateIfNeeded(renewBefore time.Duration) (bool, error) {
	m.mu.Lock()
	issued := m.issued
	m.mu.Unlock()

	if !NeedsRotation(issued, renewBefore) {
		return false, nil
	}

	fresh, err := m.ca.Issue(UsageServerAuth, issued.Leaf.Subject.CommonName, m.dnsNames, m.ips, m.validFor)
	if err != nil {
		return false, err
	}
	tlsCert, err := m.ca.TLSCertificate(fresh)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	m.issued = fresh
	m.mu.Unlock()
	m.resolver.Swap(tlsCert)

	if m.logger != nil {
		m.logger.Info("server certificate rotated", map[string]interface{}{"not_after": fresh.NotAfter})
	}
	return true, nil
}

// RunRotationLoop ticks RotateIfNeeded on interval until ctx is canceled.
func (m *Manager) RunRotationLoop(ctx context.Context, interval, renewBefore time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.RotateIfNeeded(renewBefore); err != nil && m.logger != nil {
				m.logger.Error("certificate rotation failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
