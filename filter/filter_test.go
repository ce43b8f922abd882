package filter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prysmaticlabs/dna/filter"
	"github.com/prysmaticlabs/dna/fragment"
)

func buildIndexGroup(t *testing.T) *fragment.IndexGroup {
	t.Helper()
	b := fragment.NewBitmapIndexBuilder()
	b.Insert(fragment.Uint32Value(1), 0)
	b.Insert(fragment.Uint32Value(1), 2)
	b.Insert(fragment.Uint32Value(2), 1)
	idx, err := b.Build()
	require.NoError(t, err)

	g := fragment.NewIndexGroup()
	g.Add(2, 0, idx)
	return g
}

func TestEvaluateIntersectsConditions(t *testing.T) {
	indexes := buildIndexGroup(t)

	f := filter.Filter{
		FilterID:   7,
		FragmentID: 2,
		Conditions: []filter.Condition{{IndexID: 0, Key: fragment.Uint32Value(1)}},
	}
	m, err := filter.Evaluate(f, indexes)
	require.NoError(t, err)
	require.Contains(t, m, uint32(0))
	require.Contains(t, m, uint32(2))
	require.NotContains(t, m, uint32(1))
	require.Contains(t, m[0], uint32(7))
}

func TestEvaluateAllUnionsFilterIDs(t *testing.T) {
	indexes := buildIndexGroup(t)

	filters := []filter.Filter{
		{FilterID: 1, FragmentID: 2, Conditions: []filter.Condition{{IndexID: 0, Key: fragment.Uint32Value(1)}}},
		{FilterID: 2, FragmentID: 2, Conditions: []filter.Condition{{IndexID: 0, Key: fragment.Uint32Value(2)}}},
	}
	m, err := filter.EvaluateAll(filters, indexes)
	require.NoError(t, err)
	require.Len(t, m, 3)
	require.Contains(t, m[1], uint32(2))
	require.NotContains(t, m[1], uint32(1))
}

func TestEvaluateMissingIndexYieldsNoMatches(t *testing.T) {
	indexes := fragment.NewIndexGroup()
	f := filter.Filter{
		FilterID:   1,
		FragmentID: 9,
		Conditions: []filter.Condition{{IndexID: 0, Key: fragment.Uint32Value(1)}},
	}
	m, err := filter.Evaluate(f, indexes)
	require.NoError(t, err)
	require.Empty(t, m)
}
