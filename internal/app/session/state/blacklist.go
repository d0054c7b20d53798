package state

import (
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/osa030/tunebox/internal/domain/track"
)

const blacklistFalsePositiveRate = 0.01

// Blacklist is an append-only set of refs known to be unplayable.
// A bloom filter answers the common negative lookup; the exact set
// confirms positives. Not safe for concurrent use on its own.
type Blacklist struct {
	refs  map[track.Ref]struct{}
	order []track.Ref
	bloom *bloom.BloomFilter
}

// NewBlacklist creates an empty blacklist sized for about n entries.
func NewBlacklist(n int) *Blacklist {
	if n < 16 {
		n = 16
	}
	return &Blacklist{
		refs:  make(map[track.Ref]struct{}),
		bloom: bloom.NewWithEstimates(uint(n), blacklistFalsePositiveRate),
	}
}

// Add adds ref and reports whether it was new.
func (b *Blacklist) Add(ref track.Ref) bool {
	if _, ok := b.refs[ref]; ok {
		return false
	}
	b.refs[ref] = struct{}{}
	b.order = append(b.order, ref)
	b.bloom.AddString(string(ref))
	return true
}

// Has reports whether ref is blacklisted.
func (b *Blacklist) Has(ref track.Ref) bool {
	if !b.bloom.TestString(string(ref)) {
		return false
	}
	_, ok := b.refs[ref]
	return ok
}

// Len returns the number of entries.
func (b *Blacklist) Len() int {
	return len(b.refs)
}

// Refs returns the entries in insertion order.
func (b *Blacklist) Refs() []track.Ref {
	return cloneRefs(b.order)
}
