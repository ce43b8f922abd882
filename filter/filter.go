// Package filter implements the chain-agnostic filter model from
// spec.md §4.8. Chain-specific compilers (chain/evm/filter,
// chain/beacon/filter) turn wire bytes into these types; this package
// only evaluates them against fragment indexes.
package filter

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/prysmaticlabs/dna/fragment"
)

// Condition requires the record's position to be present in the bitmap
// stored at (fragment_id implied by the enclosing Filter, index_id).
type Condition struct {
	IndexID fragment.IndexID
	Key     fragment.ScalarValue
}

// Filter evaluates to true for a record in FragmentID iff every
// Condition's bitmap contains the record's position (AND semantics).
// Joins names additional fragments to dereference for each match.
type Filter struct {
	FilterID   uint32
	FragmentID fragment.FragmentID
	Conditions []Condition
	Joins      []fragment.FragmentID
}

// BlockFilter is the compiled form a client request reduces to: per
// fragment, the (ORed) set of Filters that apply to it.
type BlockFilter struct {
	AlwaysIncludeHeader bool
	Filters             map[fragment.FragmentID][]Filter
}

// FilterMatch maps a record's position within its fragment to the set
// of FilterIDs that matched it, per spec.md §4.9's segment-scan step.
type FilterMatch map[uint32]map[uint32]struct{}

// Add records that filterID matched position.
func (m FilterMatch) Add(position uint32, filterID uint32) {
	set, ok := m[position]
	if !ok {
		set = make(map[uint32]struct{})
		m[position] = set
	}
	set[filterID] = struct{}{}
}

// Evaluate intersects every condition's bitmap for f, resolving each
// condition's (fragment_id, index_id) pair against indexes, and
// records a match for every surviving position under f.FilterID.
func Evaluate(f Filter, indexes *fragment.IndexGroup) (FilterMatch, error) {
	match := make(FilterMatch)
	if len(f.Conditions) == 0 {
		return match, nil
	}

	var acc *roaring.Bitmap
	for _, cond := range f.Conditions {
		idx := indexes.Get(f.FragmentID, cond.IndexID)
		var bm *roaring.Bitmap
		if idx != nil {
			var err error
			bm, err = idx.Get(cond.Key)
			if err != nil {
				return nil, err
			}
		}
		if bm == nil {
			bm = roaring.New()
		}
		if acc == nil {
			acc = bm.Clone()
		} else {
			acc.And(bm)
		}
	}
	if acc == nil {
		return match, nil
	}

	it := acc.Iterator()
	for it.HasNext() {
		match.Add(it.Next(), f.FilterID)
	}
	return match, nil
}

// EvaluateAll merges the FilterMatch of every filter targeting the same
// fragment (the OR-across-filters semantics from spec.md §4.8).
func EvaluateAll(filters []Filter, indexes *fragment.IndexGroup) (FilterMatch, error) {
	combined := make(FilterMatch)
	for _, f := range filters {
		m, err := Evaluate(f, indexes)
		if err != nil {
			return nil, err
		}
		for pos, ids := range m {
			for id := range ids {
				combined.Add(pos, id)
			}
		}
	}
	return combined, nil
}
