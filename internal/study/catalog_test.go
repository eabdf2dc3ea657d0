package study

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllPairs(t *testing.T) {
	pairs := AllPairs()
	require.Len(t, pairs, 16)

	assert.Equal(t, Pair{Category: 1, Index: 1, Left: "walk-low-weight.bvh", Right: "walk-high-weight.bvh"}, pairs[0])
	assert.Equal(t, Pair{Category: 2, Index: 2, Left: "wave-low-space.bvh", Right: "wave-high-space.bvh"}, pairs[5])
	assert.Equal(t, Pair{Category: 4, Index: 4, Left: "put-low-flow.bvh", Right: "put-high-flow.bvh"}, pairs[15])

	seen := map[string]bool{}
	for _, p := range pairs {
		assert.False(t, seen[p.Left], "duplicate %s", p.Left)
		seen[p.Left] = true
	}
}

func TestCategoryPairs_OutOfRange(t *testing.T) {
	for _, c := range []int{0, 5, -1} {
		_, err := CategoryPairs(c)
		assert.Error(t, err)
	}
}

func TestPair_Helpers(t *testing.T) {
	p := AllPairs()[9]

	assert.Equal(t, "time", p.CategoryName())
	assert.Equal(t, "wave-low-time.bvh vs wave-high-time.bvh", p.Label())

	left, right := p.Resolve(filepath.Join("static", "bvh"))
	assert.Equal(t, filepath.Join("static", "bvh", "wave-low-time.bvh"), left)
	assert.Equal(t, filepath.Join("static", "bvh", "wave-high-time.bvh"), right)
}
