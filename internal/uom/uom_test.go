package uom

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareWithinTolerance(t *testing.T) {
	require.Equal(t, 0, Compare(10.0, 10.004, 0.01))
	require.Equal(t, 0, Compare(10.004, 10.0, 0.01))
	require.Equal(t, -1, Compare(9.98, 10.0, 0.01))
	require.Equal(t, 1, Compare(10.02, 10.0, 0.01))
}

func TestIsZero(t *testing.T) {
	require.True(t, IsZero(0.004, 0.01))
	require.True(t, IsZero(-0.004, 0.01))
	require.False(t, IsZero(0.01, 0.01))
	require.False(t, IsZero(-0.02, 0.01))
}

func TestConvertHalfUp(t *testing.T) {
	sqm := Unit{ID: 1, Name: "m2", Factor: 1, Rounding: 0.01}
	dozenSqm := Unit{ID: 2, Name: "12 m2", Factor: 12, Rounding: 0.01}

	got, err := Convert(1, dozenSqm, sqm)
	require.NoError(t, err)
	require.InDelta(t, 12.0, got, 1e-9)

	got, err = Convert(5, sqm, dozenSqm)
	require.NoError(t, err)
	require.InDelta(t, 0.42, got, 1e-9)

	// Same unit skips rounding entirely.
	got, err = Convert(3.333333, sqm, sqm)
	require.NoError(t, err)
	require.InDelta(t, 3.333333, got, 1e-12)
}

func TestConvertInvalidUnit(t *testing.T) {
	_, err := Convert(1, Unit{Factor: -1}, Unit{Factor: 1})
	require.ErrorIs(t, err, ErrInvalidUnit)
}
