package allocation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/quant"
)

// rejectingLedger refuses reservations for one lot, everything else passes
// through to the in-memory ledger.
type rejectingLedger struct {
	*quant.MemoryLedger
	rejectLotID int64
}

func (l *rejectingLedger) UpdateReserved(ctx context.Context, productID, locationID int64, delta float64, lotID int64, strict bool) error {
	if lotID == l.rejectLotID && delta > 0 {
		return errors.New("serialization failure")
	}
	return l.MemoryLedger.UpdateReserved(ctx, productID, locationID, delta, lotID, strict)
}

func TestReserveSkipsRejectedLotAndContinues(t *testing.T) {
	mem := quant.NewMemoryLedger(0.01)
	seedLot(mem, 1, "A", 8, 1)
	seedLot(mem, 2, "B", 6, 2)
	ledger := &rejectingLedger{MemoryLedger: mem, rejectLotID: 1}

	move := wholeLotMove(100)
	move.Demand = 14
	store := newMemoryStore(move)
	exec := NewExecutor(ledger, store, nil)

	total, err := exec.Reserve(context.Background(), move, []Reservation{
		{LotID: 1, LotName: "A", Qty: 8},
		{LotID: 2, LotName: "B", Qty: 6},
	})
	require.NoError(t, err)
	require.InDelta(t, 6.0, total, 0.0001)

	lines, _ := store.LinesForMove(context.Background(), 100)
	require.Len(t, lines, 1)
	require.Equal(t, int64(2), lines[0].LotID)
}

func TestReserveUsesActualDeltaNotRequested(t *testing.T) {
	ledger := quant.NewMemoryLedger(0.01)
	// Lot is partly reserved already, so asking for 8 only lands 5.
	ledger.Add(quant.Quant{ProductID: 1, LocationID: 10, LotID: 1, LotName: "A", Quantity: 8, Reserved: 3})

	move := wholeLotMove(100)
	move.Demand = 8
	store := newMemoryStore(move)
	exec := NewExecutor(ledger, store, nil)

	total, err := exec.Reserve(context.Background(), move, []Reservation{{LotID: 1, LotName: "A", Qty: 8}})
	require.NoError(t, err)
	require.InDelta(t, 5.0, total, 0.0001)

	lines, _ := store.LinesForMove(context.Background(), 100)
	require.Len(t, lines, 1)
	require.InDelta(t, 5.0, lines[0].Qty, 0.0001)
}

func TestReserveZeroEffectCreatesNoLine(t *testing.T) {
	ledger := quant.NewMemoryLedger(0.01)
	ledger.Add(quant.Quant{ProductID: 1, LocationID: 10, LotID: 1, LotName: "A", Quantity: 4, Reserved: 4})

	move := wholeLotMove(100)
	move.Demand = 4
	store := newMemoryStore(move)
	exec := NewExecutor(ledger, store, nil)

	total, err := exec.Reserve(context.Background(), move, []Reservation{{LotID: 1, LotName: "A", Qty: 4}})
	require.NoError(t, err)
	require.InDelta(t, 0.0, total, 0.0001)

	lines, _ := store.LinesForMove(context.Background(), 100)
	require.Empty(t, lines)
}

func TestReserveCarriesPackageAndOwner(t *testing.T) {
	ledger := quant.NewMemoryLedger(0.01)
	ledger.Add(quant.Quant{ProductID: 1, LocationID: 10, LotID: 1, LotName: "A", PackageID: 7, OwnerID: 9, Quantity: 5})

	move := wholeLotMove(100)
	move.Demand = 5
	store := newMemoryStore(move)
	exec := NewExecutor(ledger, store, nil)

	_, err := exec.Reserve(context.Background(), move, []Reservation{{LotID: 1, Qty: 5}})
	require.NoError(t, err)

	lines, _ := store.LinesForMove(context.Background(), 100)
	require.Len(t, lines, 1)
	require.Equal(t, int64(7), lines[0].PackageID)
	require.Equal(t, int64(9), lines[0].OwnerID)
	require.Equal(t, "A", lines[0].LotName)
}
