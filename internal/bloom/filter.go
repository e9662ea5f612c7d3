// Package bloom holds the membership filters embedded in partition
// sidecars. A filter over a partition's event IDs answers "might this file
// contain event X" without downloading the file.
package bloom

import (
	"math"

	"github.com/spaolacci/murmur3"
)

// Algorithm names the hashing scheme. It is written into every encoded
// filter and checked on decode.
const Algorithm = "murmur3_128"

const (
	defaultItems = 1000
	defaultFPR   = 0.01
)

// Filter is a fixed-size bloom filter over strings. Added values are always
// reported as possibly present. Not safe for concurrent Add.
type Filter struct {
	bits   []byte
	m      uint64 // number of bits, a multiple of 8
	k      uint64 // hash functions
	length int
}

// New sizes a filter for n values at false positive rate fpr. Out of range
// arguments fall back to 1000 values at 1%.
func New(n int, fpr float64) *Filter {
	m, k := Size(n, fpr)
	return newFilter(m, k)
}

func newFilter(m, k uint64) *Filter {
	m = (m + 7) &^ 7
	return &Filter{bits: make([]byte, m/8), m: m, k: k}
}

// Size returns the bit count and hash count for n values at rate fpr:
// m = -n ln(fpr) / ln(2)^2 and k = (m/n) ln(2).
func Size(n int, fpr float64) (bits, hashes uint64) {
	if n <= 0 {
		n = defaultItems
	}
	if fpr <= 0 || fpr >= 1 {
		fpr = defaultFPR
	}
	m := math.Ceil(-float64(n) * math.Log(fpr) / (math.Ln2 * math.Ln2))
	k := math.Ceil(m / float64(n) * math.Ln2)
	return uint64(math.Max(m, 64)), uint64(math.Max(k, 1))
}

// positions calls fn for each of the k bit positions of v, stopping early
// when fn returns false.
func (f *Filter) positions(v string, fn func(pos uint64) bool) {
	h1, h2 := murmur3.Sum128([]byte(v))
	for i := uint64(0); i < f.k; i++ {
		if !fn((h1 + i*h2) % f.m) {
			return
		}
	}
}

// Add records v.
func (f *Filter) Add(v string) {
	f.positions(v, func(pos uint64) bool {
		f.bits[pos/8] |= 1 << (pos % 8)
		return true
	})
	f.length++
}

// MayContain reports whether v may have been added. False means v was
// certainly never added.
func (f *Filter) MayContain(v string) bool {
	found := true
	f.positions(v, func(pos uint64) bool {
		found = f.bits[pos/8]&(1<<(pos%8)) != 0
		return found
	})
	return found
}

// Len returns how many values were added.
func (f *Filter) Len() int { return f.length }

// Bits returns the filter size in bits.
func (f *Filter) Bits() int { return int(f.m) }

// Hashes returns the number of hash functions.
func (f *Filter) Hashes() int { return int(f.k) }

// EstimatedFPR is the expected false positive rate at the current fill,
// (1 - e^(-k*n/m))^k.
func (f *Filter) EstimatedFPR() float64 {
	if f.length == 0 {
		return 0
	}
	k, n, m := float64(f.k), float64(f.length), float64(f.m)
	return math.Pow(1-math.Exp(-k*n/m), k)
}
