// Package quant models the resource ledger: per-lot physical and reserved
// quantities at a location, and the aggregation that turns raw records into
// the FIFO-ordered lot availability the allocation engine selects from.
package quant

import (
	"context"
	"sort"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/uom"
)

// Ledger is the narrow interface the engine consumes. Gather reads current
// records, UpdateReserved shifts reserved quantity by delta (negative deltas
// release). Implementations must keep 0 <= reserved <= quantity per record
// within rounding tolerance.
type Ledger interface {
	Gather(ctx context.Context, f Filter) ([]Quant, error)
	UpdateReserved(ctx context.Context, productID, locationID int64, delta float64, lotID int64, strict bool) error
}

// AvailableLots groups the records matching f by lot, keeps lots with free
// quantity > 0 (within rounding) and orders them for FIFO consumption:
// earliest in-date first, records without an in-date before everything,
// ties broken by lot ID.
func AvailableLots(ctx context.Context, ledger Ledger, f Filter, rounding float64) ([]LotAvailability, error) {
	quants, err := ledger.Gather(ctx, f)
	if err != nil {
		return nil, err
	}

	byLot := make(map[int64]*LotAvailability)
	var order []int64
	for _, q := range quants {
		entry, ok := byLot[q.LotID]
		if !ok {
			entry = &LotAvailability{LotID: q.LotID, LotName: q.LotName, InDate: q.InDate}
			byLot[q.LotID] = entry
			order = append(order, q.LotID)
		}
		entry.Free += q.Free()
		entry.Reserved += q.Reserved
		entry.Quants = append(entry.Quants, q)
		// A missing in-date sorts before everything, so it wins the minimum.
		if q.InDate.IsZero() || (!entry.InDate.IsZero() && q.InDate.Before(entry.InDate)) {
			entry.InDate = q.InDate
		}
	}

	available := make([]LotAvailability, 0, len(order))
	for _, lotID := range order {
		entry := byLot[lotID]
		if uom.Compare(entry.Free, 0, rounding) > 0 {
			available = append(available, *entry)
		}
	}

	sort.SliceStable(available, func(i, j int) bool {
		a, b := available[i], available[j]
		if a.InDate.IsZero() != b.InDate.IsZero() {
			return a.InDate.IsZero()
		}
		if !a.InDate.Equal(b.InDate) {
			return a.InDate.Before(b.InDate)
		}
		return a.LotID < b.LotID
	})
	return available, nil
}

// LotBalance sums free and reserved quantity for a single lot at a location.
// Reconciliation relies on the reserved figure to recognise residual records
// that carry a reservation even though their free quantity is zero.
func LotBalance(ctx context.Context, ledger Ledger, productID, locationID, lotID int64) (free, reserved float64, err error) {
	quants, err := ledger.Gather(ctx, Filter{ProductID: productID, LocationID: locationID, LotID: lotID})
	if err != nil {
		return 0, 0, err
	}
	for _, q := range quants {
		free += q.Free()
		reserved += q.Reserved
	}
	return free, reserved, nil
}
