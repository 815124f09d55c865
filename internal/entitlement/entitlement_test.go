package entitlement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSetUnionsSources(t *testing.T) {
	set := NewSet(
		Source{Name: "breakdown", Lots: []int64{1, 2}},
		Source{Name: "cart", Lots: []int64{2, 3}},
		Source{Name: "live", Lots: []int64{3}},
	)

	require.Equal(t, 3, set.Len())
	require.Equal(t, []int64{1, 2, 3}, set.Lots())
	require.Equal(t, []string{"breakdown"}, set.Provenance(1))
	require.Equal(t, []string{"breakdown", "cart"}, set.Provenance(2))
	require.Equal(t, []string{"cart", "live"}, set.Provenance(3))
}

func TestNewSetSkipsZeroLot(t *testing.T) {
	set := NewSet(Source{Name: "cart", Lots: []int64{0, 5}})
	require.Equal(t, []int64{5}, set.Lots())
}

func TestSubtract(t *testing.T) {
	set := NewSet(Source{Name: "breakdown", Lots: []int64{1, 2, 3}})

	pending := set.Subtract(1)
	require.Equal(t, []int64{2, 3}, pending.Lots())
	require.False(t, pending.Contains(1))
	// Original is untouched.
	require.True(t, set.Contains(1))

	require.True(t, set.Subtract(1, 2, 3).Empty())
}
