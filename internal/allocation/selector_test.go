package allocation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/quant"
)

func lots(frees ...float64) []quant.LotAvailability {
	out := make([]quant.LotAvailability, 0, len(frees))
	for i, free := range frees {
		out = append(out, quant.LotAvailability{
			LotID:  int64(i + 1),
			Free:   free,
			InDate: time.Date(2026, 1, i+1, 0, 0, 0, 0, time.UTC),
		})
	}
	return out
}

func selectedFrees(selection []quant.LotAvailability) []float64 {
	out := make([]float64, 0, len(selection))
	for _, lot := range selection {
		out = append(out, lot.Free)
	}
	return out
}

func TestSelectLotsExactSingleMatch(t *testing.T) {
	selection := SelectLots(lots(8, 6, 10), 10, 0.01)
	require.Equal(t, []float64{10}, selectedFrees(selection))
}

func TestSelectLotsExactMatchPrefersFIFO(t *testing.T) {
	// Two lots match exactly; the earlier arrival wins.
	selection := SelectLots(lots(10, 6, 10), 10, 0.01)
	require.Len(t, selection, 1)
	require.Equal(t, int64(1), selection[0].LotID)
}

func TestSelectLotsGreedyFIFONeverSplits(t *testing.T) {
	// Demand 15 over {8, 6, 10}: takes 8 and 6, leaves 1 unmet rather than
	// splitting the 10-unit lot.
	selection := SelectLots(lots(8, 6, 10), 15, 0.01)
	require.Equal(t, []float64{8, 6}, selectedFrees(selection))
}

func TestSelectLotsExactMatchBeatsCombination(t *testing.T) {
	// Demand 9 over {5, 9, 4}: the 9-unit lot covers the demand by itself,
	// which takes precedence over the {5, 4} combination even though the
	// 5-unit lot arrived earlier.
	selection := SelectLots(lots(5, 9, 4), 9, 0.01)
	require.Equal(t, []float64{9}, selectedFrees(selection))
}

func TestSelectLotsRemainderNeverPullsOvershoot(t *testing.T) {
	// Demand 12 over {5, 9, 4}: no single lot matches, greedy takes 5,
	// skips the 9, takes 4. The closing pass revisits the skipped 9 for
	// the remaining 3 and must leave it alone; a lot skipped for
	// overshooting can never shrink to fit the final remainder.
	selection := SelectLots(lots(5, 9, 4), 12, 0.01)
	require.Equal(t, []float64{5, 4}, selectedFrees(selection))
}

func TestSelectLotsAllOvershoot(t *testing.T) {
	selection := SelectLots(lots(12, 20), 10, 0.01)
	require.Empty(t, selection)
}

func TestSelectLotsWithinTolerance(t *testing.T) {
	selection := SelectLots(lots(9.996), 10, 0.01)
	require.Len(t, selection, 1)
}

func TestSelectLotsNeverOvershoots(t *testing.T) {
	for _, need := range []float64{1, 7, 9, 13, 14, 15, 24} {
		selection := SelectLots(lots(8, 6, 10), need, 0.01)
		var sum float64
		for _, lot := range selection {
			sum += lot.Free
		}
		require.LessOrEqual(t, sum, need+0.005, "need %v", need)
	}
}

func TestSelectLotsEmptyInputs(t *testing.T) {
	require.Empty(t, SelectLots(nil, 10, 0.01))
	require.Empty(t, SelectLots(lots(5), 0, 0.01))
	require.Empty(t, SelectLots(lots(5), -3, 0.01))
}

func BenchmarkSelectLots(b *testing.B) {
	available := make([]quant.LotAvailability, 0, 500)
	for i := 0; i < 500; i++ {
		available = append(available, quant.LotAvailability{
			LotID: int64(i + 1),
			Free:  float64(1 + i%17),
		})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SelectLots(available, 231.5, 0.01)
	}
}
