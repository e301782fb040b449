package tlsmanager

import (
	"context"
	"crypto/x509"
	"io"
	"net/http"
	"sync"
	"time"
)

type crlCacheEntry struct {
	revoked    map[string]struct{}
	cachedAt   time.Time
	nextUpdate time.Time
}

func (e crlCacheEntry) expiresAt(ttl time.Duration) time.Time {
	byTTL := e.cachedAt.Add(ttl)
	if e.nextUpdate.IsZero() || e.nextUpdate.After(byTTL) {
		return byTTL
	}
	return e.nextUpdate
}

// CRLCache mirrors OCSPCache's invariants with a larger default TTL and
// per-issuer indexing (entries keyed by the CRL distribution point URL,
// which is issuer-specific).
type CRLCache struct {
	mu      sync.RWMutex
	entries map[string]crlCacheEntry
	ttl     time.Duration
	client  *http.Client
}

func NewCRLCache(ttl time.Duration) *CRLCache {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &CRLCache{
		entries: make(map[string]crlCacheEntry),
		ttl:     ttl,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Check reports (revoked, true) on a determination, or (_, false) when
// the certificate has no CRL distribution points or the fetch failed.
func (c *CRLCache) Check(cert *x509.Certificate) (bool, bool) {
	if len(cert.CRLDistributionPoints) == 0 {
		return false, false
	}
	url := cert.CRLDistributionPoints[0]
	serial := cert.SerialNumber.String()

	c.mu.RLock()
	entry, ok := c.entries[url]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt(c.ttl)) {
		_, revoked := entry.revoked[serial]
		return revoked, true
	}

	entry, err := c.fetch(url)
	if err != nil {
		return false, false
	}

	c.mu.Lock()
	c.entries[url] = entry
	c.mu.Unlock()

	_, revoked := entry.revoked[serial]
	return revoked, true
}

func (c *CRLCache) fetch(url string) (crlCacheEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return crlCacheEntry{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return crlCacheEntry{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return crlCacheEntry{}, err
	}

	list, err := x509.ParseRevocationList(body)
	if err != nil {
		return crlCacheEntry{}, err
	}

	revoked := make(map[string]struct{}, len(list.RevokedCertificateEntries))
	for _, rc := range list.RevokedCertificateEntries {
		revoked[rc.SerialNumber.String()] = struct{}{}
	}

	entry := crlCacheEntry{revoked: revoked, cachedAt: time.Now()}
	if list.NextUpdate.After(time.Time{}) {
		entry.nextUpdate = list.NextUpdate
	}
	return entry, nil
}
