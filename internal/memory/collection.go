package memory

import (
	"math"
	"sort"
	"sync"
)

// collection is an isolated, independently locked set of records with a
// brute-force cosine index over their embeddings. The lock is held only
// for index mutation and reads, never across a network call.
type collection struct {
	name string

	mu   sync.RWMutex
	recs []Record
}

func newCollection(name string) *collection {
	return &collection{name: name}
}

func (c *collection) insert(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, r)
}

func (c *collection) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.recs)
}

type scored struct {
	rec   Record
	score float64
}

// search returns up to k records nearest to query by cosine similarity.
// A non-zero cutoff restricts results to records captured at or after it.
func (c *collection) search(query []float32, k int, cutoff int64) []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := make([]scored, 0, len(c.recs))
	for _, r := range c.recs {
		if cutoff != 0 && r.Timestamp.UnixNano() < cutoff {
			continue
		}
		hits = append(hits, scored{rec: r, score: cosine(query, r.Embedding)})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]Record, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
