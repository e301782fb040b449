package tlsmanager

import (
	"bytes"
	"context"
	"crypto/x509"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

// RevocationStatus mirrors ocsp.Good/Revoked/Unknown without exposing
// the library type at call sites outside this package.
type RevocationStatus int

const (
	RevocationGood RevocationStatus = iota
	RevocationRevoked
	RevocationUnknown
)

type ocspCacheEntry struct {
	status     RevocationStatus
	cachedAt   time.Time
	nextUpdate time.Time
}

// expiresAt implements the cache invariant: Good/Unknown entries expire
// at min(next_update, cached_at+ttl), but a Revoked entry is cached for
// the full ttl regardless of next_update — a CA cannot un-revoke a
// certificate, so there is nothing to gain from honoring a shorter
// responder-supplied refresh window for that status.
func (e ocspCacheEntry) expiresAt(ttl time.Duration) time.Time {
	byTTL := e.cachedAt.Add(ttl)
	if e.status == RevocationRevoked {
		return byTTL
	}
	if e.nextUpdate.IsZero() || e.nextUpdate.After(byTTL) {
		return byTTL
	}
	return e.nextUpdate
}

// OCSPCache caches OCSP responses keyed by certificate serial number.
// Revoked responses are cached for the full ttl; transport errors never
// update the cache, per the stated invariants.
type OCSPCache struct {
	mu      sync.RWMutex
	entries map[string]ocspCacheEntry
	ttl     time.Duration
	client  *http.Client
}

func NewOCSPCache(ttl time.Duration) *OCSPCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &OCSPCache{
		entries: make(map[string]ocspCacheEntry),
		ttl:     ttl,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Check returns (status, true) when a fresh determination was made
// (cache hit or successful fetch), or (_, false) when the certificate
// has no OCSP responder URL, or the network fetch failed — the caller
// falls back to CRL in both of the latter cases.
func (c *OCSPCache) Check(cert, issuer *x509.Certificate) (RevocationStatus, bool) {
	key := cert.SerialNumber.String()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt(c.ttl)) {
		return entry.status, true
	}

	if len(cert.OCSPServer) == 0 {
		return RevocationUnknown, false
	}

	status, nextUpdate, err := c.fetch(cert, issuer, cert.OCSPServer[0])
	if err != nil {
		// Network errors do not update the cache; fail closed for the
		// caller, who falls back to CRL.
		return RevocationUnknown, false
	}

	c.mu.Lock()
	c.entries[key] = ocspCacheEntry{status: status, cachedAt: time.Now(), nextUpdate: nextUpdate}
	c.mu.Unlock()
	return status, true
}

func (c *OCSPCache) fetch(cert, issuer *x509.Certificate, responderURL string) (RevocationStatus, time.Time, error) {
	req, err := ocsp.CreateRequest(cert, issuer, nil)
	if err != nil {
		return RevocationUnknown, time.Time{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, responderURL, bytes.NewReader(req))
	if err != nil {
		return RevocationUnknown, time.Time{}, err
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return RevocationUnknown, time.Time{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RevocationUnknown, time.Time{}, err
	}

	parsed, err := ocsp.ParseResponseForCert(body, cert, issuer)
	if err != nil {
		return RevocationUnknown, time.Time{}, err
	}

	var status RevocationStatus
	switch parsed.Status {
	case ocsp.Good:
		status = RevocationGood
	case ocsp.Revoked:
		status = RevocationRevoked
	default:
		status = RevocationUnknown
	}
	return status, parsed.NextUpdate, nil
}
