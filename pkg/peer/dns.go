package peer

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"
)

// dnsEntry caches a hostname's resolved IP alongside the resolution
// interval, so freshness can be judged without re-resolving.
type dnsEntry struct {
	resolvedURL string
	resolvedAt  time.Time
	interval    time.Duration
}

// dnsCache implements InitializeDNSResolution's per-host cache: an
// entry is eagerly re-resolved once 90% of its resolution interval has
// elapsed, avoiding a thundering herd of re-resolutions all firing at
// the same tick.
type dnsCache struct {
	mu      sync.RWMutex
	entries map[string]*dnsEntry

	stop chan struct{}
	wg   sync.WaitGroup
}

func newDNSCache() *dnsCache {
	return &dnsCache{entries: make(map[string]*dnsEntry)}
}

// Resolve substitutes the resolved form of rawURL if one is cached,
// whatever its age; it never blocks the caller on resolution, returning
// rawURL unchanged when nothing is cached.
func (c *dnsCache) Resolve(rawURL string) string {
	c.mu.RLock()
	e, ok := c.entries[rawURL]
	c.mu.RUnlock()
	if !ok {
		return rawURL
	}
	return e.resolvedURL
}

func resolveOnce(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, err
	}
	host := u.Hostname()
	if host == "" {
		return rawURL, nil
	}
	if net.ParseIP(host) != nil {
		return rawURL, nil // already an IP literal
	}

	resolver := net.DefaultResolver
	ips, err := resolver.LookupHost(ctx, host)
	if err != nil || len(ips) == 0 {
		return rawURL, err
	}

	port := u.Port()
	newHost := ips[0]
	if port != "" {
		newHost = net.JoinHostPort(ips[0], port)
	}
	out := *u
	out.Host = newHost
	return out.String(), nil
}

// InitializeDNSResolution resolves each URL's hostname at construction
// and keeps it refreshed on interval.
func (m *Manager) InitializeDNSResolution(urls []string, interval time.Duration) {
	ctx := context.Background()
	for _, u := range urls {
		resolved, err := resolveOnce(ctx, u)
		if err != nil {
			continue // never block the caller on failure; original URL stands in
		}
		m.dns.mu.Lock()
		m.dns.entries[u] = &dnsEntry{resolvedURL: resolved, resolvedAt: time.Now(), interval: interval}
		m.dns.mu.Unlock()
	}

	m.dns.stop = make(chan struct{})
	m.dns.wg.Add(1)
	go func() {
		defer m.dns.wg.Done()
		ticker := time.NewTicker(interval / 10)
		if interval <= 0 {
			ticker = time.NewTicker(time.Minute)
		}
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.refreshStaleDNSEntries(ctx)
			case <-m.dns.stop:
				return
			}
		}
	}()
}

func (m *Manager) refreshStaleDNSEntries(ctx context.Context) {
	m.dns.mu.RLock()
	var stale []string
	now := time.Now()
	for u, e := range m.dns.entries {
		freshnessWindow := time.Duration(float64(e.interval) * 0.9)
		if now.Sub(e.resolvedAt) >= freshnessWindow {
			stale = append(stale, u)
		}
	}
	m.dns.mu.RUnlock()

	for _, u := range stale {
		resolved, err := resolveOnce(ctx, u)
		if err != nil {
			continue
		}
		m.dns.mu.Lock()
		if e, ok := m.dns.entries[u]; ok {
			e.resolvedURL = resolved
			e.resolvedAt = time.Now()
		}
		m.dns.mu.Unlock()
	}
}

// StopDNSResolution stops the background refresh loop.
func (m *Manager) StopDNSResolution() {
	if m.dns.stop == nil {
		return
	}
	close(m.dns.stop)
	m.dns.wg.Wait()
	m.dns.stop = nil
}
