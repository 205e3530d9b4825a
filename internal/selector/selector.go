package selector

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/angeloszaimis/key-balancer/internal/keypool"
)

// maxRejectionDraws bounds sampling against the shared table before a draw
// falls back to an exact pass over the remaining candidates. Keeps batch
// draws cheap on large pools without risking livelock on small ones.
const maxRejectionDraws = 16

// InsufficientKeysError reports a batch request that exceeds the number of
// selectable keys in the pool.
type InsufficientKeysError struct {
	Requested  int
	Selectable int
}

func (e *InsufficientKeysError) Error() string {
	return fmt.Sprintf("insufficient keys: requested %d, selectable %d", e.Requested, e.Selectable)
}

// WeightedSelector owns the cumulative weight table. Callers must call
// Invalidate after any weight, status, or pool membership change; the
// table is rebuilt on the next draw.
type WeightedSelector struct {
	keys  []*keypool.KeyRecord // selectable records backing each table row, pool order
	table []float64            // prefix sums of the backing records' weights
	total float64
	dirty bool
}

func New() *WeightedSelector {
	return &WeightedSelector{dirty: true}
}

// Invalidate marks the cumulative table stale.
func (s *WeightedSelector) Invalidate() {
	s.dirty = true
}

// Dirty reports whether the next draw will rebuild the table.
func (s *WeightedSelector) Dirty() bool {
	return s.dirty
}

// Total returns the cached table total: the exact sum of selectable
// weights as of the last rebuild.
func (s *WeightedSelector) Total() float64 {
	return s.total
}

// Draw picks n distinct keys from the pool's records, each with probability
// proportional to its weight. Keys present in the recency cache are only
// admitted once every non-recent candidate has been taken. Returns
// InsufficientKeysError when fewer than n selectable keys exist. n of zero
// or less returns an empty batch without touching any state.
func (s *WeightedSelector) Draw(records []*keypool.KeyRecord, cache *RecencyCache, n int) ([]*keypool.KeyRecord, error) {
	if n <= 0 {
		return nil, nil
	}

	if s.dirty {
		s.rebuild(records)
	}

	if len(s.keys) < n {
		return nil, &InsufficientKeysError{Requested: n, Selectable: len(s.keys)}
	}

	fresh := 0
	for _, r := range s.keys {
		if !cache.Contains(r.Value) {
			fresh++
		}
	}

	chosen := make([]*keypool.KeyRecord, 0, n)
	taken := make(map[*keypool.KeyRecord]struct{}, n)

	for len(chosen) < n {
		requireFresh := fresh > 0

		pick := s.sampleTable(taken, cache, requireFresh)
		if pick == nil {
			pick = s.drawExact(taken, cache, requireFresh)
		}

		taken[pick] = struct{}{}
		chosen = append(chosen, pick)

		if requireFresh {
			fresh--
		}
	}

	return chosen, nil
}

// rebuild recomputes the table from the current pool state: selectable
// records in pool order, prefix sums of their weights.
func (s *WeightedSelector) rebuild(records []*keypool.KeyRecord) {
	s.keys = s.keys[:0]
	s.table = s.table[:0]
	s.total = 0

	for _, r := range records {
		if !r.Selectable() {
			continue
		}

		s.total += r.Weight
		s.keys = append(s.keys, r)
		s.table = append(s.table, s.total)
	}

	s.dirty = false
}

// sampleTable tries up to maxRejectionDraws weighted samples against the
// shared table, rejecting already-taken keys and, when requireFresh is
// set, recently used ones. Returns nil when the rejection budget runs out
// or the table carries no weight.
func (s *WeightedSelector) sampleTable(taken map[*keypool.KeyRecord]struct{}, cache *RecencyCache, requireFresh bool) *keypool.KeyRecord {
	if s.total <= 0 {
		return nil
	}

	for try := 0; try < maxRejectionDraws; try++ {
		sample := rand.Float64() * s.total

		idx := sort.Search(len(s.table), func(i int) bool {
			return s.table[i] > sample
		})
		if idx >= len(s.keys) {
			continue
		}

		candidate := s.keys[idx]
		if _, ok := taken[candidate]; ok {
			continue
		}
		if requireFresh && cache.Contains(candidate.Value) {
			continue
		}

		return candidate
	}

	return nil
}

// drawExact performs one weighted draw over a scratch table of the
// candidates still admissible for this slot. When the remaining candidates
// carry no weight at all the draw degrades to uniform, so configured
// zero-weight keys can still complete a batch that needs them.
func (s *WeightedSelector) drawExact(taken map[*keypool.KeyRecord]struct{}, cache *RecencyCache, requireFresh bool) *keypool.KeyRecord {
	var (
		candidates []*keypool.KeyRecord
		prefix     []float64
		total      float64
	)

	for _, r := range s.keys {
		if _, ok := taken[r]; ok {
			continue
		}
		if requireFresh && cache.Contains(r.Value) {
			continue
		}

		total += r.Weight
		candidates = append(candidates, r)
		prefix = append(prefix, total)
	}

	if len(candidates) == 0 {
		return nil
	}

	if total <= 0 {
		return candidates[rand.IntN(len(candidates))]
	}

	sample := rand.Float64() * total

	idx := sort.Search(len(prefix), func(i int) bool {
		return prefix[i] > sample
	})
	if idx >= len(candidates) {
		idx = len(candidates) - 1
	}

	return candidates[idx]
}
