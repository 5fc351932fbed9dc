package peer

import (
	"math"
	"math/rand/v2"
	"sort"
)

// SelectPeers returns up to n peer URLs from category: preferred peers
// first, ordered among themselves by weight descending, then remaining
// slots filled by weighted-without-replacement sampling over
// non-preferred peers.
func (m *Manager) SelectPeers(category Category, n int) []string {
	snapshot := m.Snapshot(category)

	var preferred, rest []Peer
	for _, p := range snapshot {
		if p.Preferred {
			preferred = append(preferred, p)
		} else {
			rest = append(rest, p)
		}
	}
	sort.Slice(preferred, func(i, j int) bool { return preferred[i].Weight > preferred[j].Weight })

	out := make([]string, 0, n)
	for _, p := range preferred {
		if len(out) >= n {
			return out
		}
		out = append(out, p.URL)
	}

	remaining := n - len(out)
	if remaining <= 0 {
		return out
	}
	for _, url := range weightedSampleWithoutReplacement(rest, remaining) {
		out = append(out, url)
	}
	return out
}

// weightedSampleWithoutReplacement uses Efraimidis-Spirakis weighted
// reservoir sampling: each candidate gets a key = rand()^(1/weight);
// the k candidates with the largest keys are the weighted-without-
// replacement sample.
func weightedSampleWithoutReplacement(peers []Peer, k int) []string {
	if k >= len(peers) {
		urls := make([]string, 0, len(peers))
		// Still order by descending weight so higher-weight peers are
		// tried first when every peer is returned.
		sorted := append([]Peer(nil), peers...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Weight > sorted[j].Weight })
		for _, p := range sorted {
			urls = append(urls, p.URL)
		}
		return urls
	}

	type keyed struct {
		url string
		key float64
	}
	keys := make([]keyed, 0, len(peers))
	for _, p := range peers {
		w := float64(p.Weight)
		if w <= 0 {
			w = 1
		}
		u := rand.Float64()
		if u <= 0 {
			u = 1e-12
		}
		key := math.Pow(u, 1.0/w)
		keys = append(keys, keyed{url: p.URL, key: key})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].key > keys[j].key })

	out := make([]string, 0, k)
	for i := 0; i < k && i < len(keys); i++ {
		out = append(out, keys[i].url)
	}
	return out
}
