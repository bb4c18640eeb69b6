package generator

import (
	"encoding/hex"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
)

const day = 24 * time.Hour

// precision is the finest instant resolution every backend round-trips.
// Document stores keep milliseconds.
const precision = time.Millisecond

// NewSource returns the random source for a seed. Every draw of a run comes
// from the one *rand.Rand handed to Generate.
func NewSource(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

type weighted[K comparable] struct {
	key    K
	weight float64
}

// sortedWeights fixes the iteration order of a weight map so that draws do
// not depend on map ordering.
func sortedWeights[K ~string](m map[K]float64) []weighted[K] {
	out := make([]weighted[K], 0, len(m))
	for k, w := range m {
		out = append(out, weighted[K]{key: k, weight: w})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func pick[K comparable](rng *rand.Rand, choices []weighted[K]) K {
	var total float64
	for _, c := range choices {
		total += c.weight
	}
	r := rng.Float64() * total
	for _, c := range choices {
		if r < c.weight {
			return c.key
		}
		r -= c.weight
	}
	return choices[len(choices)-1].key
}

func chance(rng *rand.Rand, p float64) bool {
	return rng.Float64() < p
}

// between draws an instant uniformly from [from, to], truncated to
// precision.
func between(rng *rand.Rand, from, to time.Time) time.Time {
	d := to.Sub(from)
	if d <= 0 {
		return from
	}
	return from.Add(time.Duration(rng.Int63n(int64(d) + 1))).Truncate(precision)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func newID(rng *rand.Rand) uuid.UUID {
	return uuid.Must(uuid.NewRandomFromReader(rng))
}

func token(rng *rand.Rand, prefix string, n int) string {
	b := make([]byte, n)
	rng.Read(b)
	return prefix + hex.EncodeToString(b)
}

// quota returns round(rate * n) clamped to [0, limit].
func quota(rate float64, n, limit int) int {
	k := int(math.Round(rate * float64(n)))
	if k > limit {
		k = limit
	}
	if k < 0 {
		k = 0
	}
	return k
}

// sample picks k distinct indices from [0, n) without replacement using
// Floyd's algorithm, returned in ascending order.
func sample(rng *rand.Rand, n, k int) []int {
	if k > n {
		k = n
	}
	chosen := make(map[int]bool, k)
	out := make([]int, 0, k)
	for j := n - k; j < n; j++ {
		t := rng.Intn(j + 1)
		if chosen[t] {
			t = j
		}
		chosen[t] = true
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}
