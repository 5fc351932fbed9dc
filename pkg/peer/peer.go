// Package peer implements weighted peer pools: three independent
// categories (chain / get_chunk / post_chunk), each with
// weighted-without-replacement selection, preferred-peer pinning,
// periodic refresh, and DNS resolution caching.
//
// Peer weight decays continuously on failure and climbs on success
// rather than following a hard ban/blacklist model, and pool mutation
// follows a single-writer, multiple-snapshot-reader discipline.
package peer

import (
	"sync"
	"time"
)

// Category is one of the three independent peer pools.
type Category string

const (
	CategoryChain     Category = "chain"
	CategoryGetChunk  Category = "get_chunk"
	CategoryPostChunk Category = "post_chunk"
)

const (
	minWeight            = 1
	maxWeight            = 100
	defaultNewPeerWeight = 50
	successIncrement     = 5
	failureDecayFactor   = 0.8
)

type entry struct {
	url       string
	weight    uint32
	preferred bool

	consecutiveFailures int
	parked              bool
}

// Manager holds the three weighted peer pools.
type Manager struct {
	mu    sync.RWMutex
	pools map[Category]map[string]*entry

	preferred map[Category]map[string]bool

	refresher RefreshSource

	autoRefreshStop chan struct{}
	autoRefreshWG   sync.WaitGroup

	dns *dnsCache
}

// RefreshSource is the source-of-truth a category's pool is repopulated
// from (the trusted-node peer list, or a configured URL set).
type RefreshSource interface {
	FetchPeers(category Category) ([]string, error)
}

// Config configures a new Manager.
type Config struct {
	Preferred map[Category][]string
	Refresher RefreshSource
}

func NewManager(cfg Config) *Manager {
	m := &Manager{
		pools:     make(map[Category]map[string]*entry),
		preferred: make(map[Category]map[string]bool),
		refresher: cfg.Refresher,
		dns:       newDNSCache(),
	}
	for cat, urls := range cfg.Preferred {
		if m.preferred[cat] == nil {
			m.preferred[cat] = make(map[string]bool)
		}
		if m.pools[cat] == nil {
			m.pools[cat] = make(map[string]*entry)
		}
		for _, u := range urls {
			m.preferred[cat][u] = true
			m.pools[cat][u] = &entry{url: u, weight: maxWeight, preferred: true}
		}
	}
	return m
}

func (m *Manager) isPreferred(category Category, url string) bool {
	return m.preferred[category][url]
}

// ReportSuccess applies the additive-increase weight policy.
func (m *Manager) ReportSuccess(category Category, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.pools[category][url]
	if e == nil {
		return
	}
	if e.weight+successIncrement > maxWeight {
		e.weight = maxWeight
	} else {
		e.weight += successIncrement
	}
	e.consecutiveFailures = 0
	e.parked = false
}

// ReportFailure applies the multiplicative-decrease weight policy,
// except preferred peers never decay.
func (m *Manager) ReportFailure(category Category, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.pools[category][url]
	if e == nil {
		return
	}
	if e.preferred {
		return
	}
	decayed := uint32(float64(e.weight) * failureDecayFactor)
	if decayed < minWeight {
		decayed = minWeight
	}
	e.weight = decayed
	e.consecutiveFailures++
}

// RefreshPeers repopulates category's pool from the refresh source,
// preserving preferred peers and their weights.
func (m *Manager) RefreshPeers(category Category) error {
	if m.refresher == nil {
		return nil
	}
	urls, err := m.refresher.FetchPeers(category)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	preserved := make(map[string]*entry)
	for url, e := range m.pools[category] {
		if e.preferred {
			preserved[url] = e
		}
	}

	fresh := make(map[string]*entry, len(urls))
	for url, e := range preserved {
		fresh[url] = e
	}
	for _, url := range urls {
		if _, ok := fresh[url]; ok {
			continue
		}
		fresh[url] = &entry{url: url, weight: defaultNewPeerWeight}
	}
	m.pools[category] = fresh
	return nil
}

// StartAutoRefresh runs RefreshPeers for each of the given categories
// on interval until StopAutoRefresh is called.
func (m *Manager) StartAutoRefresh(interval time.Duration, categories ...Category) {
	m.autoRefreshStop = make(chan struct{})
	m.autoRefreshWG.Add(1)
	go func() {
		defer m.autoRefreshWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, cat := range categories {
					_ = m.RefreshPeers(cat)
				}
			case <-m.autoRefreshStop:
				return
			}
		}
	}()
}

func (m *Manager) StopAutoRefresh() {
	if m.autoRefreshStop == nil {
		return
	}
	close(m.autoRefreshStop)
	m.autoRefreshWG.Wait()
	m.autoRefreshStop = nil
}

// Snapshot returns a stable, consistent view of a category's pool for
// selection, so readers never observe a pool mutating mid-selection.
func (m *Manager) Snapshot(category Category) []Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Peer, 0, len(m.pools[category]))
	for _, e := range m.pools[category] {
		if e.parked {
			continue
		}
		out = append(out, Peer{URL: e.url, Weight: e.weight, Preferred: e.preferred})
	}
	return out
}

// Peer is a read-only snapshot of one pool entry.
type Peer struct {
	URL       string
	Weight    uint32
	Preferred bool
}
